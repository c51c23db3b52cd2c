package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/poevideo/poe-video/internal/config"
	"github.com/poevideo/poe-video/internal/logging"
	"github.com/poevideo/poe-video/internal/services"
	"github.com/poevideo/poe-video/internal/video"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.Logging, os.Stderr)
	if cfg.Poe.UsesPlaceholderKey() {
		logger.Warn("POE_API_KEY is not set; using placeholder credential")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poeService := services.NewPoeService(cfg, logger)
	generator := video.NewGenerator(poeService, &cfg.Poe, os.Stdout, os.Stderr, logger)

	// Failures are already reported on stderr; the exit status stays zero.
	_, _ = generator.Generate(ctx, cfg.Poe.Prompt)
}
