package device

import (
	"go.uber.org/fx"

	"github.com/netmeterhq/netmeter/internal/device/service"
)

var Module = fx.Module("device.service",
	fx.Provide(service.NewService),
)
