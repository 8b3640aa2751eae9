package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the softphone process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	SIP      SIPConfig
	LiveCall LiveCallConfig
	Audio    AudioConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// DBConfig is optional. When DB_HOST is set the Postgres account source is used.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// SIPConfig holds the static account (when set) and transport settings.
type SIPConfig struct {
	Extension   string
	Host        string
	Secret      string
	Port        int
	DisplayName string

	// AccountFile is a watched JSON account; it overrides the static fields.
	AccountFile string
	// UserID selects the profile when accounts come from Postgres.
	UserID string

	Transport       string
	ListenAddr      string
	RegisterExpires time.Duration
	RTPAddr         string
	UserAgent       string
}

type LiveCallConfig struct {
	Store      string
	Key        string
	SQLitePath string
	// TTL expires a redis record nobody cleared. Zero keeps it until the next start.
	TTL time.Duration
}

type AudioConfig struct {
	// SinkAddr is the UDP destination inbound RTP is forwarded to. Empty drops audio.
	SinkAddr string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	if c.DB.Host != "" {
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.SIP.Extension = strings.TrimSpace(os.Getenv("SIP_EXTENSION"))
	c.SIP.Host = strings.TrimSpace(os.Getenv("SIP_HOST"))
	c.SIP.Secret = os.Getenv("SIP_SECRET")
	{
		n, err := optionalInt("SIP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.SIP.Port = n
	}
	c.SIP.DisplayName = strings.TrimSpace(os.Getenv("SIP_DISPLAY_NAME"))
	c.SIP.AccountFile = strings.TrimSpace(os.Getenv("SIP_ACCOUNT_FILE"))
	c.SIP.UserID = strings.TrimSpace(os.Getenv("SIP_USER_ID"))
	c.SIP.Transport = strings.ToLower(strings.TrimSpace(os.Getenv("SIP_TRANSPORT")))
	c.SIP.ListenAddr = strings.TrimSpace(os.Getenv("SIP_LISTEN_ADDR"))
	c.SIP.RegisterExpires = mustDuration("SIP_REGISTER_EXPIRES")
	c.SIP.RTPAddr = strings.TrimSpace(os.Getenv("SIP_RTP_ADDR"))
	c.SIP.UserAgent = strings.TrimSpace(os.Getenv("SIP_USER_AGENT"))

	c.LiveCall.Store = strings.ToLower(strings.TrimSpace(os.Getenv("LIVECALL_STORE")))
	c.LiveCall.Key = strings.TrimSpace(os.Getenv("LIVECALL_KEY"))
	c.LiveCall.SQLitePath = strings.TrimSpace(os.Getenv("LIVECALL_SQLITE_PATH"))
	c.LiveCall.TTL = mustDuration("LIVECALL_TTL")

	c.Audio.SinkAddr = strings.TrimSpace(os.Getenv("AUDIO_SINK_ADDR"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks every field and fills defaults. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.HasDB() {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
		if c.SIP.UserID == "" && c.SIP.AccountFile == "" {
			errs = append(errs, errors.New("SIP_USER_ID is required when DB_HOST is set"))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	// A partial static account is allowed; the engine reports missing credentials.
	if c.SIP.Port < 0 || c.SIP.Port > 65535 {
		errs = append(errs, fmt.Errorf("SIP_PORT must be a valid port, got %d", c.SIP.Port))
	}
	if c.SIP.Transport == "" {
		c.SIP.Transport = "udp"
	}
	if c.SIP.Transport != "udp" && c.SIP.Transport != "tcp" {
		errs = append(errs, fmt.Errorf("SIP_TRANSPORT must be one of udp, tcp, got %q", c.SIP.Transport))
	}
	if c.SIP.ListenAddr == "" {
		c.SIP.ListenAddr = "0.0.0.0:5060"
	}
	if c.SIP.RegisterExpires <= 0 {
		c.SIP.RegisterExpires = 600 * time.Second
	} else if c.SIP.RegisterExpires < 60*time.Second {
		errs = append(errs, fmt.Errorf("SIP_REGISTER_EXPIRES must be at least 60s, got %s", c.SIP.RegisterExpires))
	}
	if c.SIP.UserAgent == "" {
		c.SIP.UserAgent = "softphone"
	}

	if c.LiveCall.Store == "" {
		c.LiveCall.Store = "memory"
	}
	switch c.LiveCall.Store {
	case "memory":
	case "redis":
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when LIVECALL_STORE=redis"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	case "sqlite":
		if c.LiveCall.SQLitePath == "" {
			c.LiveCall.SQLitePath = "softphone.db"
		}
	default:
		errs = append(errs, fmt.Errorf("LIVECALL_STORE must be one of memory, redis, sqlite, got %q", c.LiveCall.Store))
	}
	if c.LiveCall.TTL < 0 {
		errs = append(errs, fmt.Errorf("LIVECALL_TTL must not be negative, got %s", c.LiveCall.TTL))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// IsDevelopment reports whether verbose logging is appropriate.
func (c Config) IsDevelopment() bool {
	return c.App.Env == "local" || c.App.Env == "dev"
}

func (c Config) HasDB() bool {
	return c.DB.Host != ""
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
