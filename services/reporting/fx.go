package reporting

import "go.uber.org/fx"

var Module = fx.Module("reporting.service",
	fx.Provide(NewService),
)
