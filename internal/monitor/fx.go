package monitor

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("monitor",
	fx.Provide(FromAgentConfig),
	fx.Provide(NewMonitor),
	fx.Invoke(runMonitor),
)

func runMonitor(lc fx.Lifecycle, monitor *Monitor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go monitor.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
