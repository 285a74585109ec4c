// chatrelay - presence-aware direct message relay
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

const version = "0.1.0"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	app := &cli.App{
		Name:           "chatrelay",
		Usage:          "Direct message relay with presence and busy auto-replies",
		Version:        version,
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			serveCommand(),
			userAddCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}
