// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/siderolabs/go-dvr-recover/config"
	"github.com/siderolabs/go-dvr-recover/store"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and change settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(_ context.Context, _ *zap.Logger, st *store.Store) error {
			cfg, err := loadConfig(st)
			if err != nil {
				return err
			}

			for _, key := range config.Keys() {
				value, err := cfg.Value(key)
				if err != nil {
					return err
				}

				if key == config.KeyInputs {
					value = strings.Join(cfg.Inputs, ", ")
				}

				fmt.Printf("%s = %s\n", key, value)
			}

			return nil
		})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set key value",
	Short: "Change a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateSettings(cmd, func(tx *store.Tx) error {
			return config.Set(tx, args[0], args[1])
		})
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset key",
	Short: "Restore the default of a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateSettings(cmd, func(tx *store.Tx) error {
			return config.Unset(tx, args[0])
		})
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the defaults of all settings, including input files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return updateSettings(cmd, func(tx *store.Tx) error {
			return config.Reset(tx)
		})
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd, configResetCmd)
	rootCmd.AddCommand(configCmd)
}

func updateSettings(cmd *cobra.Command, fn func(tx *store.Tx) error) error {
	return withStore(cmd, func(_ context.Context, _ *zap.Logger, st *store.Store) error {
		return st.Update(fn)
	})
}
