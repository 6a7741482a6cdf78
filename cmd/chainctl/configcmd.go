package main

import (
	"fmt"

	"github.com/danmuck/chainstream/internal/chain"
	"github.com/danmuck/chainstream/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or validate config templates",
	}

	var (
		kind   string
		output string
		force  bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template (resolve|feed|manifest)",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := output
			if target == "" {
				target = kind + ".toml"
			}
			if err := config.WriteTemplate(target, kind, force); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s template to %s\n", kind, target)
			return err
		},
	}
	initCmd.Flags().StringVarP(&kind, "kind", "k", "resolve", "template kind: resolve|feed|manifest")
	initCmd.Flags().StringVarP(&output, "output", "o", "", "output path (default <kind>.toml)")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	var validateKind string
	validateCmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			var err error
			switch validateKind {
			case "resolve":
				_, err = config.LoadResolveConfig(path)
			case "feed":
				_, err = config.LoadFeedConfig(path)
			case "manifest":
				_, err = chain.LoadManifest(path)
			default:
				err = fmt.Errorf("unknown kind: %s", validateKind)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "validated %s config at %s\n", validateKind, path)
			return err
		},
	}
	validateCmd.Flags().StringVarP(&validateKind, "kind", "k", "resolve", "config kind: resolve|feed|manifest")

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
