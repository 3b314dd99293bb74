package main

import (
	"context"
	"fmt"
	"time"

	"github.com/chintondutta/drawsync/internal/auth"
	"github.com/chintondutta/drawsync/internal/config"
	"github.com/chintondutta/drawsync/internal/db"
	"github.com/chintondutta/drawsync/internal/service"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func openDB(cfg config.Config) (*gorm.DB, error) {
	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return gdb, nil
}

// newSeedCmd 创建一个房间和若干用户，并打印每个用户的访问令牌，用于本地联调。
func newSeedCmd() *cobra.Command {
	var (
		slug  string
		names []string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a room with members and print their access tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			gdb, err := openDB(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			users := service.NewUserService(gdb)
			rooms := service.NewRoomService(gdb)
			if len(names) == 0 {
				return fmt.Errorf("at least one --user is required")
			}
			admin, err := users.Create(ctx, names[0])
			if err != nil {
				return err
			}
			room, err := rooms.Create(ctx, slug, admin.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "room %d (%s)\n", room.ID, room.Slug)
			ttl := time.Duration(cfg.AccessTokenTTLMinutes) * time.Minute
			for i, name := range names {
				u := admin
				if i > 0 {
					if u, err = users.Create(ctx, name); err != nil {
						return err
					}
					if err := rooms.AddMember(ctx, room.ID, u.ID); err != nil {
						return err
					}
				}
				token, err := auth.GenerateAccessToken(u.ID, cfg.JWTSecret, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", u.Name, u.ID, token)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&slug, "room", "demo", "Room slug")
	cmd.Flags().StringSliceVar(&names, "user", []string{"alice", "bob"}, "User display names; the first one administers the room")
	return cmd
}

// newTokenCmd 为已存在的用户签发访问令牌。
func newTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an access token for an existing user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			gdb, err := openDB(cfg)
			if err != nil {
				return err
			}
			users := service.NewUserService(gdb)
			ok, err := users.Exists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("user %s not found", args[0])
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.AccessTokenTTLMinutes) * time.Minute
			}
			token, err := auth.GenerateAccessToken(args[0], cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to ACCESS_TOKEN_TTL_MINUTES)")
	return cmd
}
