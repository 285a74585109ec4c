package main

import (
	"fmt"
	"log/slog"

	"github.com/ashureev/chatrelay/internal/auth"
	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/store"
	"github.com/urfave/cli/v2"
)

func userAddCommand() *cli.Command {
	return &cli.Command{
		Name:  "useradd",
		Usage: "Register a user directly in the database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "email",
				Aliases:  []string{"e"},
				Usage:    "Login email",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "password",
				Aliases:  []string{"p"},
				Usage:    "Login password (8-72 characters)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Initial status, AVAILABLE or BUSY",
				Value: string(domain.StatusAvailable),
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "SQLite database `FILE`",
				EnvVars: []string{"DB_PATH"},
				Value:   "./data/chatrelay.db",
			},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(slog.LevelWarn)

			status, err := domain.ParseStatus(c.String("status"))
			if err != nil {
				return err
			}

			repo, err := store.NewSQLite(c.String("db"))
			if err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			defer func() {
				if closeErr := repo.Close(); closeErr != nil {
					logger.Error("Failed to close repository", "error", closeErr)
				}
			}()

			// Register does not issue tokens.
			svc := auth.NewService(repo, nil, logger)
			user, err := svc.Register(c.Context, auth.Credentials{
				Email:    c.String("email"),
				Password: c.String("password"),
			}, status)
			if err != nil {
				return fmt.Errorf("register user: %w", err)
			}

			fmt.Fprintf(c.App.Writer, "%s %s %s\n", user.ID, user.Email, user.Status)
			return nil
		},
	}
}
