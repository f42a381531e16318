package main

import (
	"context"
	"fmt"
	"os"

	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/bootstrap"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/cli"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/config"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/env"
)

func main() {
	env.SetupEnvFile()

	open := func(ctx context.Context) (*bootstrap.Components, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		return bootstrap.Build(ctx, cfg)
	}

	if err := cli.NewRootCommand(open).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
