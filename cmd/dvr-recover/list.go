// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	dvrrecover "github.com/siderolabs/go-dvr-recover"
	"github.com/siderolabs/go-dvr-recover/chunk"
	"github.com/siderolabs/go-dvr-recover/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List chunks grouped into recordings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(_ context.Context, _ *zap.Logger, st *store.Store) error {
			chains, err := dvrrecover.Chains(st)
			if err != nil {
				return err
			}

			return printChains(os.Stdout, chains)
		})
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

// printChains prints one line per chunk, continuation chunks are marked with '#'.
func printChains(out io.Writer, chains []chunk.Chain) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintln(w, "INDEX\tID\tBLOCK START\tBLOCK SIZE\tCLOCK START\tCLOCK END\tDURATION\tLINKED\t")

	var chunks int

	for _, c := range chains {
		for i, ch := range c.Chunks {
			index := "#"
			if i == 0 {
				index = strconv.Itoa(c.Index)
			}

			linked := "-"
			if ch.Predecessor.IsPresent() {
				linked = strconv.FormatUint(uint64(ch.Predecessor.ValueOrZero()), 10)
			}

			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\t\n",
				index, ch.ID, ch.BlockStart, ch.BlockSize, ch.ClockStart, ch.ClockEnd, ch.Duration().Round(time.Second), linked)

			chunks++
		}
	}

	if err := w.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(out, "%d chunks in %d recordings\n", chunks, len(chains))

	return err
}
