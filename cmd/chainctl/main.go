package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/chainstream/internal/observability"
	"github.com/rs/zerolog/log"
)

func main() {
	observability.InitLogger("chainctl")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		stop()
		os.Exit(1)
	}
}
