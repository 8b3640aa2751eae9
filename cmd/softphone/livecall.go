package main

import (
	"context"
	"fmt"
	"os"

	"softphone/internal/config"
	"softphone/internal/livecall"
	"softphone/pkg/utils"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func livecallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "livecall",
		Short: "Inspect the persisted live-call record",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the persisted live-call record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(repo livecall.Repository) error {
				rec, err := repo.Load(cmd.Context())
				if err != nil {
					return err
				}
				if rec == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "no live call recorded")
					return nil
				}
				out, err := jsoniter.MarshalIndent(rec, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the persisted live-call record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(repo livecall.Repository) error {
				if err := repo.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "live call record cleared")
				return nil
			})
		},
	}

	cmd.AddCommand(showCmd)
	cmd.AddCommand(clearCmd)
	return cmd
}

func withRepo(ctx context.Context, fn func(livecall.Repository) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if cfg.LiveCall.Store == "memory" {
		fmt.Fprintln(os.Stderr, "LIVECALL_STORE=memory keeps no record between processes")
	}
	repo, closeRepo, err := openLiveCallRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()
	return fn(repo)
}

func redisRepo(rdb *redis.Client, cfg config.LiveCallConfig) *livecall.RedisRepo {
	repo := livecall.NewRedisRepo(rdb, cfg.Key)
	repo.TTL = cfg.TTL
	return repo
}

// openLiveCallRepo builds the configured live-call store.
func openLiveCallRepo(ctx context.Context, cfg config.Config) (livecall.Repository, func(), error) {
	switch cfg.LiveCall.Store {
	case "redis":
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			return nil, nil, fmt.Errorf("redis init failed: %w", err)
		}
		return redisRepo(rdb, cfg.LiveCall), func() { _ = rdb.Close() }, nil
	case "sqlite":
		db, err := utils.OpenSQLite(ctx, cfg.LiveCall.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite init failed: %w", err)
		}
		repo, err := livecall.NewSQLiteRepo(ctx, db, cfg.LiveCall.Key)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return repo, func() { _ = db.Close() }, nil
	default:
		return livecall.NewMemoryRepo(), func() {}, nil
	}
}
