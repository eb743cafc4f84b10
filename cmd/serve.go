package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paul-frank/bluegreen-todo-api/internal/database"
	"github.com/Paul-frank/bluegreen-todo-api/internal/logging"
	"github.com/Paul-frank/bluegreen-todo-api/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, cmd.ErrOrStderr())
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions, logOut io.Writer) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger, err := logging.New(logOut, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	logger.Info("starting todo api",
		"version", cfg.AppVersion,
		"addr", cfg.Addr(),
		"store", database.Redact(cfg.MongoURI),
	)

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	store, err := database.Open(openCtx, cfg.MongoURI)
	cancel()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("closing store", "err", err)
		}
	}()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		logger.Warn("store not reachable yet, /health reports disconnected until it is", "driver", store.Driver(), "err", err)
	} else {
		logger.Info("store connected", "driver", store.Driver(), "version", cfg.AppVersion)
	}
	cancel()

	return server.New(cfg, store, logger).Run(ctx)
}
