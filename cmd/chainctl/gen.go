package main

import (
	"fmt"
	"os"

	"github.com/danmuck/chainstream/internal/chain"
	"github.com/spf13/cobra"
)

func newGenCmd() *cobra.Command {
	var manifestPath, outDir string
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Write the chains described by a manifest",
		Long: `Builds every chain of a TOML manifest and writes it tip first. Files ending in
.gz or .zst are compressed.

Examples:
  chainctl config init --kind manifest --output chains.toml
  chainctl gen --manifest chains.toml --out ./chains
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := chain.LoadManifest(manifestPath)
			if err != nil {
				return err
			}
			built, err := m.Build()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			paths, err := chain.WriteFiles(outDir, built)
			if err != nil {
				return err
			}
			for i, p := range paths {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d block(s)\n", p, len(built[i].Blocks)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "chains.toml", "chain manifest (toml)")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	return cmd
}
