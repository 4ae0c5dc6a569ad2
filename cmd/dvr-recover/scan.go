// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	dvrrecover "github.com/siderolabs/go-dvr-recover"
	"github.com/siderolabs/go-dvr-recover/blockstream"
	"github.com/siderolabs/go-dvr-recover/store"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the input files for chunks, resuming an interrupted scan",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, runScan)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(ctx context.Context, logger *zap.Logger, st *store.Store) error {
	cfg, err := loadConfig(st)
	if err != nil {
		return err
	}

	if err = cfg.ValidateScan(); err != nil {
		return err
	}

	stream, err := blockstream.Open(cfg.Inputs...)
	if err != nil {
		return err
	}

	defer stream.Close() //nolint:errcheck

	scanner, err := dvrrecover.NewScanner(st,
		dvrrecover.WithLogger(logger.With(zap.String("component", "scanner"))),
		dvrrecover.WithConfig(cfg),
	)
	if err != nil {
		return err
	}

	stats, err := scanner.Run(ctx, stream)
	if errors.Is(err, context.Canceled) {
		fmt.Printf("scan interrupted at block %d of %d, run scan again to resume\n", stats.StartBlock+stats.BlocksRead, stats.TotalBlocks)

		return nil
	}

	if err != nil {
		return err
	}

	fmt.Printf("scanned %d blocks, found %d chunks in %s (%.1f MiB/s)\n",
		stats.BlocksRead, stats.Chunks, stats.Elapsed.Round(time.Second), stats.BytesPerSecond(cfg.BlockSize)/(1<<20))

	return nil
}
