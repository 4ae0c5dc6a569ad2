// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package main implements dvr-recover, a tool recovering recordings from DVR disk images.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/siderolabs/go-dvr-recover/config"
	"github.com/siderolabs/go-dvr-recover/store"
)

var rootCmdFlags struct {
	db    string
	debug bool
}

var rootCmd = &cobra.Command{
	Use:           "dvr-recover",
	Short:         "Recover MPEG recordings from DVR disk images",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootCmdFlags.db, "db", "dvr-recover.db", "path to the chunk database directory")
	rootCmd.PersistentFlags().BoolVar(&rootCmdFlags.debug, "debug", false, "enable debug logging")
}

func main() {
	if err := app(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func app() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func newLogger() (*zap.Logger, error) {
	if rootCmdFlags.debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}

// withStore runs fn with the store opened for the duration of the command.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, logger *zap.Logger, st *store.Store) error) (err error) {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	defer logger.Sync() //nolint:errcheck

	st, err := store.Open(rootCmdFlags.db, store.WithLogger(logger.With(zap.String("component", "store"))))
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, st.Close())
	}()

	return fn(cmd.Context(), logger, st)
}

func loadConfig(st *store.Store) (config.Config, error) {
	var cfg config.Config

	err := st.View(func(tx *store.Tx) error {
		var err error

		cfg, err = config.Load(tx)

		return err
	})

	return cfg, err
}
