// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	dvrrecover "github.com/siderolabs/go-dvr-recover"
	"github.com/siderolabs/go-dvr-recover/blockstream"
	"github.com/siderolabs/go-dvr-recover/store"
	"github.com/siderolabs/go-dvr-recover/zstd"
)

var exportCmdFlags struct {
	compress bool
}

var exportCmd = &cobra.Command{
	Use:   "export [index]",
	Short: "Export all recordings, or the one with the given index",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index := 0

		if len(args) == 1 {
			var err error

			if index, err = strconv.Atoi(args[0]); err != nil {
				return fmt.Errorf("invalid index %q: %w", args[0], err)
			}
		}

		return withStore(cmd, func(ctx context.Context, logger *zap.Logger, st *store.Store) error {
			return runExport(ctx, logger, st, index)
		})
	},
}

func init() {
	exportCmd.Flags().BoolVar(&exportCmdFlags.compress, "compress", false, "compress exported files with zstd")

	rootCmd.AddCommand(exportCmd)
}

func runExport(ctx context.Context, logger *zap.Logger, st *store.Store, index int) error {
	cfg, err := loadConfig(st)
	if err != nil {
		return err
	}

	if err = cfg.ValidateExport(); err != nil {
		return err
	}

	if err = cfg.ValidateScan(); err != nil {
		return err
	}

	opts := []dvrrecover.OptionFunc{
		dvrrecover.WithLogger(logger.With(zap.String("component", "exporter"))),
		dvrrecover.WithConfig(cfg),
	}

	if exportCmdFlags.compress {
		opts = append(opts, dvrrecover.WithCompressor(zstd.NewCompressor()))
	}

	exporter, err := dvrrecover.NewExporter(st, func() (io.ReadSeekCloser, error) {
		return blockstream.Open(cfg.Inputs...)
	}, opts...)
	if err != nil {
		return err
	}

	var results []dvrrecover.ExportResult

	if index > 0 {
		var result dvrrecover.ExportResult

		result, err = exporter.ExportChain(ctx, index)
		results = append(results, result)
	} else {
		results, err = exporter.ExportAll(ctx)
	}

	if err != nil {
		return err
	}

	for _, result := range results {
		fmt.Printf("%s: %d chunks, %d bytes\n", result.Path, result.Chunks, result.Bytes)
	}

	return nil
}
