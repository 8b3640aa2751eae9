package main

import (
	"testing"
	"time"

	"softphone/internal/config"
	"softphone/internal/livecall"
)

func TestRedisRepoTakesConfiguredTTL(t *testing.T) {
	repo := redisRepo(nil, config.LiveCallConfig{Key: "desk:live", TTL: 6 * time.Hour})
	if repo.TTL != 6*time.Hour {
		t.Fatalf("expected 6h ttl, got %s", repo.TTL)
	}
	if repo.Key() != "desk:live" {
		t.Fatalf("unexpected key %q", repo.Key())
	}

	if def := redisRepo(nil, config.LiveCallConfig{}); def.Key() != livecall.DefaultKey || def.TTL != 0 {
		t.Fatalf("unexpected defaults key=%q ttl=%s", def.Key(), def.TTL)
	}
}
