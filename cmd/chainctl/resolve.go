package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/danmuck/chainstream/internal/admin"
	"github.com/danmuck/chainstream/internal/ancestor"
	"github.com/danmuck/chainstream/internal/config"
	"github.com/danmuck/chainstream/internal/protocol/blockstream"
	"github.com/danmuck/chainstream/internal/source"
	"github.com/spf13/cobra"
)

type resolveFlags struct {
	configPath  string
	concurrent  bool
	parallelism int
	maxRounds   int
	timeout     string
	json        bool
}

func newResolveCmd() *cobra.Command {
	var flags resolveFlags
	cmd := &cobra.Command{
		Use:   "resolve [uri...]",
		Short: "Find the common ancestor of two or more chains",
		Long: `Streams every chain tip first and reports the highest block that all of them
share by number and parent hash.

Examples:
  chainctl resolve main.chain side.chain.gz
  chainctl resolve tcp://127.0.0.1:7400 tcp://127.0.0.1:7401 --concurrent
  chainctl resolve --config resolve.toml --json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, flags, args)
			if err != nil {
				return err
			}
			return runResolve(cmd, cfg, flags.json)
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "resolve config file (toml)")
	cmd.Flags().BoolVar(&flags.concurrent, "concurrent", false, "pull the chains of one round in parallel")
	cmd.Flags().IntVar(&flags.parallelism, "parallelism", 0, "max in-flight pulls per round (0 = all)")
	cmd.Flags().IntVar(&flags.maxRounds, "max-rounds", 0, "abort after this many merge rounds (0 = unbounded)")
	cmd.Flags().StringVar(&flags.timeout, "timeout", "", "bound for the whole resolution, e.g. 30s")
	cmd.Flags().BoolVar(&flags.json, "json", false, "print the result as json")
	return cmd
}

// resolveConfig layers positional sources and changed flags over the config file.
func resolveConfig(cmd *cobra.Command, flags resolveFlags, args []string) (config.ResolveConfig, error) {
	cfg := config.DefaultResolveConfig()
	if flags.configPath != "" {
		loaded, err := config.LoadResolveConfig(flags.configPath)
		if err != nil {
			return config.ResolveConfig{}, err
		}
		cfg = loaded
	}
	if len(args) > 0 {
		cfg.Sources = args
	}
	fs := cmd.Flags()
	if fs.Changed("concurrent") {
		cfg.Concurrent = flags.concurrent
	}
	if fs.Changed("parallelism") {
		cfg.Parallelism = flags.parallelism
	}
	if fs.Changed("max-rounds") {
		cfg.MaxRounds = flags.maxRounds
	}
	if fs.Changed("timeout") {
		cfg.Timeout = flags.timeout
	}
	if err := config.ValidateResolveConfig(cfg); err != nil {
		return config.ResolveConfig{}, err
	}
	if len(cfg.Sources) == 0 {
		return config.ResolveConfig{}, fmt.Errorf("no sources given")
	}
	return cfg, nil
}

func runResolve(cmd *cobra.Command, cfg config.ResolveConfig, asJSON bool) error {
	ctx := cmd.Context()
	if d := cfg.TimeoutDuration(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	rcs, err := source.OpenAll(ctx, cfg.Sources, cfg.SourceConfig())
	if err != nil {
		return err
	}
	defer func() { _ = source.CloseAll(rcs) }()

	streams := make([]ancestor.Puller, len(rcs))
	for i, rc := range rcs {
		streams[i] = blockstream.New(rc, blockstream.WithName(cfg.Sources[i]))
	}
	res, err := ancestor.Resolve(ctx, streams, cfg.ResolverOptions()...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(admin.NewResolveResponse(res, cfg.Sources))
	}
	if !res.Found {
		_, err = fmt.Fprintf(out, "no common ancestor (rounds=%d pulls=%d)\n", res.Rounds, res.Pulls)
		return err
	}
	_, err = fmt.Fprintf(out, "common ancestor %s (rounds=%d pulls=%d)\n", res.Block, res.Rounds, res.Pulls)
	return err
}
