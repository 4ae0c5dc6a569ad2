// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	dvrrecover "github.com/siderolabs/go-dvr-recover"
	"github.com/siderolabs/go-dvr-recover/store"
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Chain chunks into recordings by timestamp continuity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(ctx context.Context, logger *zap.Logger, st *store.Store) error {
			linker, err := newLinker(logger, st)
			if err != nil {
				return err
			}

			stats, err := linker.Link(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("linked %d of %d chunks, %d left unlinked due to conflicts\n", stats.Linked, stats.Chunks, stats.Conflicts)

			return nil
		})
	},
}

var resetLinksCmd = &cobra.Command{
	Use:   "reset-links",
	Short: "Remove all links between chunks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(_ context.Context, logger *zap.Logger, st *store.Store) error {
			linker, err := newLinker(logger, st)
			if err != nil {
				return err
			}

			return linker.Reset()
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all chunks and scan progress, settings are kept",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(_ context.Context, _ *zap.Logger, st *store.Store) error {
			return dvrrecover.Clear(st)
		})
	},
}

func init() {
	rootCmd.AddCommand(linkCmd, resetLinksCmd, clearCmd)
}

func newLinker(logger *zap.Logger, st *store.Store) (*dvrrecover.Linker, error) {
	cfg, err := loadConfig(st)
	if err != nil {
		return nil, err
	}

	return dvrrecover.NewLinker(st,
		dvrrecover.WithLogger(logger.With(zap.String("component", "linker"))),
		dvrrecover.WithConfig(cfg),
	)
}
