// Package livecall persists a marker of the in-flight call so an interrupted call
// can be detected after a crash or reload. It is never the live source of truth.
package livecall

import (
	"context"
	"errors"
	"fmt"

	"softphone/internal/calls"

	jsoniter "github.com/json-iterator/go"
)

// DefaultKey is the single key the record is stored under.
const DefaultKey = "softphone:live_call"

var ErrCorruptRecord = errors.New("livecall: corrupt record")

// Repository holds at most one CallAlert snapshot.
// Load returns (nil, nil) when no record exists.
type Repository interface {
	Load(ctx context.Context) (*calls.CallAlert, error)
	Save(ctx context.Context, alert calls.CallAlert) error
	Clear(ctx context.Context) error
}

func encode(alert calls.CallAlert) ([]byte, error) {
	return jsoniter.Marshal(alert)
}

func decode(raw []byte) (*calls.CallAlert, error) {
	var a calls.CallAlert
	if err := jsoniter.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &a, nil
}

// Reconcile loads a record left behind by a previous run and clears it.
// A non-nil result is the call that was in progress when the process last stopped.
// Corrupt records are cleared and reported as no interrupted call.
func Reconcile(ctx context.Context, repo Repository) (*calls.CallAlert, error) {
	rec, err := repo.Load(ctx)
	if errors.Is(err, ErrCorruptRecord) {
		return nil, repo.Clear(ctx)
	}
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	if err := repo.Clear(ctx); err != nil {
		return rec, err
	}
	return rec, nil
}
