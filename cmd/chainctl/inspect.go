package main

import (
	"encoding/json"
	"fmt"

	"github.com/danmuck/chainstream/internal/admin"
	"github.com/danmuck/chainstream/internal/protocol/block"
	"github.com/danmuck/chainstream/internal/protocol/blockstream"
	"github.com/danmuck/chainstream/internal/source"
	"github.com/spf13/cobra"
)

type inspectedBlock struct {
	admin.BlockView
	// Linked reports whether the next block in the stream is this block's parent by digest.
	Linked bool `json:"linked"`
}

func newInspectCmd() *cobra.Command {
	var (
		asJSON bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "inspect <uri>",
		Short: "Decode and print the blocks of one chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rc, err := source.Open(ctx, args[0], source.DefaultConfig())
			if err != nil {
				return err
			}
			s := blockstream.New(rc, blockstream.WithName(args[0]))
			defer s.Close()

			var blocks []block.Block
			for b, err := range s.All(ctx) {
				if err != nil {
					return err
				}
				blocks = append(blocks, b)
				if limit > 0 && len(blocks) >= limit {
					break
				}
			}

			views := make([]inspectedBlock, len(blocks))
			for i, b := range blocks {
				views[i].BlockView = admin.NewBlockView(b)
				if i+1 < len(blocks) {
					views[i].Linked = b.ParentHash == block.Digest(blocks[i+1])
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}
			for _, v := range views {
				mark := " "
				if v.Linked {
					mark = "^"
				}
				if _, err := fmt.Fprintf(out, "%s %8d parent=%s content=%s\n", mark, v.Number, v.ParentHash, v.Content); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(out, "%d block(s), %d byte(s)\n", len(blocks), s.Stats().Bytes)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print blocks as json")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after n blocks (0 = all)")
	return cmd
}
