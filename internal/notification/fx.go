package notification

import (
	notificationdomain "github.com/LoohanZinho/enemaccess/internal/notification/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(
		NewDispatcher,
		func(d *Dispatcher) notificationdomain.Dispatcher { return d },
	),
	fx.Invoke(registerHooks),
)
