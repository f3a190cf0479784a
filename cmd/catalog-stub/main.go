package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/AikioCorp/buy-web-sub002/internal/stub"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := stub.LoadConfig()
		if err != nil {
			return err
		}
		return stub.Run(ctx, lg, m, cfg)
	})
}
