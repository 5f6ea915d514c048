// Command api-server serves the pre-order API and runs the retention
// scheduler and the order mirror worker in the same process.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	preorder "github.com/xenking/preorder/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := preorder.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "load config")
		}
		// Background sweeps and mirror delivery log through the context.
		ctx = zctx.Base(ctx, lg.Named("preorder"))
		return preorder.Run(ctx, lg, m, cfg)
	})
}
