package dispatch

import "go.uber.org/fx"

var Module = fx.Module("notification.dispatch",
	fx.Provide(New),
)
