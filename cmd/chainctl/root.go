package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chainctl",
		Short: "Block chain stream tooling",
		Long: `Resolve the common ancestor of block chains streamed tip first, inspect
chain files, generate fixture chains and serve them as TCP block feeds.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newResolveCmd(),
		newInspectCmd(),
		newGenCmd(),
		newServeCmd(),
		newConfigCmd(),
	)
	return root
}
