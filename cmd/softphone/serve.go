package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"softphone/internal/account"
	"softphone/internal/auth"
	"softphone/internal/config"
	"softphone/internal/httpapi"
	"softphone/internal/media"
	"softphone/internal/notify"
	"softphone/internal/softphone"
	"softphone/internal/telephony"
	"softphone/pkg/logger"
	"softphone/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var allowLogin bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Register the SIP agent and serve the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(allowLogin)
		},
	}
	cmd.Flags().BoolVar(&allowLogin, "dev-login", false, "Expose POST /v1/auth/login (ignored in production)")
	return cmd
}

func serve(allowLogin bool) error {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
		allowLogin = false
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth init failed: %w", err)
	}

	repo, closeRepo, err := openLiveCallRepo(rootCtx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	accounts, closeAccounts, err := openAccountSource(rootCtx, cfg)
	if err != nil {
		return err
	}
	defer closeAccounts()

	initial, err := accounts.Lookup(rootCtx, cfg.SIP.UserID)
	if err != nil {
		// The engine reports missing credentials; registration waits for a reload.
		log.Warn("initial account lookup failed", "err", err)
	}

	hub := notify.NewHub()
	defer hub.Close()

	audio, err := media.NewRTPForwarder(cfg.Audio.SinkAddr, logger.Component(log, "media"))
	if err != nil {
		return fmt.Errorf("audio sink init failed: %w", err)
	}
	defer audio.Close()

	engine, err := softphone.New(softphone.Options{
		Account: initial,
		Factory: telephony.NewSIPFactory(logger.Component(log, "sip")),
		Transport: telephony.Config{
			RegisterExpires: cfg.SIP.RegisterExpires,
			Network:         cfg.SIP.Transport,
			ListenAddr:      cfg.SIP.ListenAddr,
			RTPAddr:         cfg.SIP.RTPAddr,
			UserAgent:       cfg.SIP.UserAgent,
		},
		Repo:     repo,
		Notifier: hub,
		Ringer:   notify.NewRingtone(hub),
		Audio:    audio,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("engine init failed: %w", err)
	}

	go func() {
		if err := engine.Run(rootCtx); err != nil {
			log.Error("engine stopped", "err", err)
			stop()
		}
	}()

	if cfg.SIP.AccountFile != "" {
		go func() {
			err := account.Watch(rootCtx, cfg.SIP.AccountFile, log, func(a account.Account) {
				log.Info("account file changed", "extension", a.Extension)
				if err := engine.SetAccount(rootCtx, a); err != nil {
					log.Warn("account reload failed", "err", err)
				}
			})
			if err != nil {
				log.Error("account watcher failed", "err", err)
			}
		}()
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, httpapi.Handlers{
		Auth:       authManager,
		Phone:      engine,
		Accounts:   accounts,
		Events:     hub,
		Notices:    hub,
		AllowLogin: allowLogin,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: the websocket event stream is long-lived.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("softphone listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	select {
	case <-engine.Done():
	case <-shutdownCtx.Done():
		log.Warn("engine did not stop before deadline")
	}
	return nil
}

// openAccountSource picks where SIP credentials come from: a watched file,
// the Postgres user profile, or the static env account.
func openAccountSource(ctx context.Context, cfg config.Config) (account.Source, func(), error) {
	switch {
	case cfg.SIP.AccountFile != "":
		return account.FileSource{Path: cfg.SIP.AccountFile}, func() {}, nil
	case cfg.HasDB():
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres init failed: %w", err)
		}
		return account.NewPostgresSource(db), func() { _ = db.Close() }, nil
	default:
		return account.Static{
			Extension:   cfg.SIP.Extension,
			Host:        cfg.SIP.Host,
			Secret:      cfg.SIP.Secret,
			Port:        cfg.SIP.Port,
			DisplayName: cfg.SIP.DisplayName,
		}, func() {}, nil
	}
}
