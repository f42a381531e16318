package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/bootstrap"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/config"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/env"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/router"
)

func main() {
	env.SetupEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Worker] Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("[Worker] Startup failed: %v", err)
	}
	defer components.Close()

	w, err := components.NewWorker()
	if err != nil {
		log.Fatalf("[Worker] Building worker failed: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})

	// Without Redis the queue is in-process, so intake has to live here too.
	if env.GetEnvBool("EMBED_API", components.Redis == nil) {
		app := router.NewApplication(components)
		g.Go(func() error {
			<-gctx.Done()
			return app.Shutdown()
		})
		g.Go(func() error {
			return app.Listen(fmt.Sprintf("%s:%s", cfg.Host, cfg.Port))
		})
	}

	log.Infof("[Worker] Running (clinic=%s, backend=%s)", cfg.ClinicID, components.Stores.Backend)
	if err := g.Wait(); err != nil {
		log.Errorf("[Worker] Stopped with error: %v", err)
		os.Exit(1)
	}
	log.Info("[Worker] Stopped")
}
