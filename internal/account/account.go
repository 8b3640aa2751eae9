package account

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
)

var (
	ErrIncomplete = errors.New("account: sip credentials incomplete")
	ErrNotFound   = errors.New("account: profile not found")
)

var validate = validator.New()

// Account is the SIP identity of one user profile.
// Extension, Host, Secret and Port are all required before a registration is attempted.
type Account struct {
	Extension   string `json:"extension" validate:"required"`
	Host        string `json:"host" validate:"required,hostname_rfc1123|ip"`
	Secret      string `json:"secret" validate:"required"`
	Port        int    `json:"port" validate:"required,min=1,max=65535"`
	DisplayName string `json:"displayName,omitempty"`
}

// Complete reports whether every required field is present and well formed.
func (a Account) Complete() bool {
	return validate.Struct(a) == nil
}

// Validate returns ErrIncomplete wrapping the first failing field.
func (a Account) Validate() error {
	if err := validate.Struct(a); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s", ErrIncomplete, verrs[0].Field())
		}
		return fmt.Errorf("%w: %v", ErrIncomplete, err)
	}
	return nil
}

// Endpoint is the signaling server URI, e.g. sip:pbx.example.com:5060.
func (a Account) Endpoint() string {
	return "sip:" + a.Host + ":" + strconv.Itoa(a.Port)
}

// Address is the local address of record, e.g. sip:1001@pbx.example.com.
func (a Account) Address() string {
	return "sip:" + a.Extension + "@" + a.Host
}

// Source resolves the SIP account for a user.
type Source interface {
	Lookup(ctx context.Context, userID string) (Account, error)
}

// Static always returns the same account. Used for env-configured deployments.
type Static Account

func (s Static) Lookup(_ context.Context, _ string) (Account, error) {
	return Account(s), nil
}
