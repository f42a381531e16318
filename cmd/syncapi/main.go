package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2/log"

	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/bootstrap"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/config"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/env"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/router"
)

func main() {
	env.SetupEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[API] Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("[API] Startup failed: %v", err)
	}
	defer components.Close()

	if components.Redis == nil {
		log.Warn("[API] Commands accepted here are only visible to this process; run syncworker with EMBED_API=true instead")
	}

	app := router.NewApplication(components)
	go func() {
		<-ctx.Done()
		log.Info("[API] Shutting down")
		_ = app.Shutdown()
	}()

	if err := app.Listen(fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)); err != nil {
		log.Fatal(err)
	}
}
