package account

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	jsoniter "github.com/json-iterator/go"
)

// ReadFile decodes an account from a JSON file.
func ReadFile(path string) (Account, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Account{}, fmt.Errorf("account: read %s: %w", path, err)
	}
	var a Account
	if err := jsoniter.Unmarshal(raw, &a); err != nil {
		return Account{}, fmt.Errorf("account: decode %s: %w", path, err)
	}
	return a, nil
}

// FileSource serves the account stored in a JSON file, re-read on every lookup.
type FileSource struct {
	Path string
}

func (s FileSource) Lookup(_ context.Context, _ string) (Account, error) {
	return ReadFile(s.Path)
}

// Watch calls onChange with the freshly decoded account whenever the file is
// written or re-created. It blocks until ctx is done.
//
// The parent directory is watched so editors that replace the file atomically still trigger.
func Watch(ctx context.Context, path string, log *slog.Logger, onChange func(Account)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("account: create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("account: watch %s: %w", path, err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			a, err := ReadFile(path)
			if err != nil {
				log.Warn("account file reload failed", "path", path, "err", err)
				continue
			}
			onChange(a)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("account watcher error", "err", err)
		}
	}
}
