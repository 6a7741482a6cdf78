package main

import (
	"strings"

	"github.com/danmuck/chainstream/internal/admin"
	"github.com/danmuck/chainstream/internal/config"
	"github.com/danmuck/chainstream/internal/feed"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a chain file as a TCP block feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFeedConfig(configPath)
			if err != nil {
				return err
			}
			log.Info().Str("path", configPath).Msg("loaded feed config")
			srv, err := feed.New(cfg.Feed())
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return srv.ListenAndServe(ctx) })
			if strings.TrimSpace(cfg.AdminAddr) != "" {
				api := admin.New(cfg.Admin(srv))
				g.Go(func() error { return api.ListenAndServe(ctx) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "feed.toml", "feed config file (toml)")
	return cmd
}
