package account

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAccountComplete(t *testing.T) {
	full := Account{Extension: "1001", Host: "pbx.example.com", Secret: "s3cret", Port: 5060}
	if !full.Complete() {
		t.Fatalf("expected complete account")
	}

	missing := []Account{
		{Host: "pbx.example.com", Secret: "s", Port: 5060},
		{Extension: "1001", Secret: "s", Port: 5060},
		{Extension: "1001", Host: "pbx.example.com", Port: 5060},
		{Extension: "1001", Host: "pbx.example.com", Secret: "s"},
	}
	for i, a := range missing {
		if a.Complete() {
			t.Fatalf("case %d: expected incomplete", i)
		}
		if err := a.Validate(); !errors.Is(err, ErrIncomplete) {
			t.Fatalf("case %d: expected ErrIncomplete, got %v", i, err)
		}
	}
}

func TestAccountURIs(t *testing.T) {
	a := Account{Extension: "1001", Host: "10.0.0.5", Secret: "s", Port: 5080}
	if got := a.Endpoint(); got != "sip:10.0.0.5:5080" {
		t.Fatalf("unexpected endpoint %q", got)
	}
	if got := a.Address(); got != "sip:1001@10.0.0.5" {
		t.Fatalf("unexpected address %q", got)
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "account.json")
	body := `{"extension":"1001","host":"pbx.example.com","secret":"x","port":5060,"displayName":"Desk"}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	a, err := FileSource{Path: path}.Lookup(context.Background(), "")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if a.Extension != "1001" || a.Port != 5060 || a.DisplayName != "Desk" {
		t.Fatalf("unexpected account %+v", a)
	}
}

func TestStaticSource(t *testing.T) {
	want := Account{Extension: "1001", Host: "h", Secret: "s", Port: 1}
	got, err := Static(want).Lookup(context.Background(), "anyone")
	if err != nil || got != want {
		t.Fatalf("unexpected %+v %v", got, err)
	}
}

func TestPostgresSourceRequiresDB(t *testing.T) {
	if _, err := NewPostgresSource(nil).Lookup(context.Background(), "u1"); err == nil {
		t.Fatalf("expected error without database")
	}
}

func TestWatchReportsRewrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "account.json")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan Account, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, slog.New(slog.NewTextHandler(io.Discard, nil)), func(a Account) {
			changed <- a
		})
	}()

	body := []byte(`{"extension":"1002","host":"pbx.example.com","secret":"x","port":5060}`)
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	// Keep rewriting until the watcher, which starts asynchronously, sees one.
	for {
		select {
		case a := <-changed:
			if a.Extension != "1002" {
				t.Fatalf("unexpected account %+v", a)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("watch: %v", err)
			}
			return
		case <-tick.C:
			if err := os.WriteFile(path, body, 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
		case <-deadline:
			t.Fatalf("no change reported")
		}
	}
}
