// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/siderolabs/go-dvr-recover/config"
	"github.com/siderolabs/go-dvr-recover/store"
)

var inputCmd = &cobra.Command{
	Use:   "input",
	Short: "Manage the input files, which are concatenated in the listed order",
}

var inputListCmd = &cobra.Command{
	Use:   "list",
	Short: "List input files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(_ context.Context, _ *zap.Logger, st *store.Store) error {
			cfg, err := loadConfig(st)
			if err != nil {
				return err
			}

			for i, input := range cfg.Inputs {
				fmt.Printf("%d\t%s\n", i+1, input)
			}

			return nil
		})
	},
}

var inputAddCmd = &cobra.Command{
	Use:   "add path...",
	Short: "Append input files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateInputs(cmd, func(inputs []string) ([]string, error) {
			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err != nil {
					return nil, err
				}

				if slices.Contains(inputs, path) {
					return nil, fmt.Errorf("input %q is already configured", path)
				}

				inputs = append(inputs, path)
			}

			return inputs, nil
		})
	},
}

var inputDelCmd = &cobra.Command{
	Use:   "del path...",
	Short: "Remove input files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateInputs(cmd, func(inputs []string) ([]string, error) {
			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err != nil {
					return nil, err
				}

				idx := slices.Index(inputs, path)
				if idx == -1 {
					return nil, fmt.Errorf("input %q is not configured", path)
				}

				inputs = slices.Delete(inputs, idx, idx+1)
			}

			return inputs, nil
		})
	},
}

var inputClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all input files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return updateInputs(cmd, func([]string) ([]string, error) {
			return nil, nil
		})
	},
}

func init() {
	inputCmd.AddCommand(inputListCmd, inputAddCmd, inputDelCmd, inputClearCmd)
	rootCmd.AddCommand(inputCmd)
}

func updateInputs(cmd *cobra.Command, fn func(inputs []string) ([]string, error)) error {
	return updateSettings(cmd, func(tx *store.Tx) error {
		cfg, err := config.Load(tx)
		if err != nil {
			return err
		}

		inputs, err := fn(cfg.Inputs)
		if err != nil {
			return err
		}

		return config.SetInputs(tx, inputs)
	})
}
