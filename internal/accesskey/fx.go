package accesskey

import (
	"github.com/LoohanZinho/enemaccess/internal/accesskey/domain"
	"github.com/LoohanZinho/enemaccess/internal/accesskey/repository"
	"github.com/LoohanZinho/enemaccess/internal/accesskey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("accesskey",
	fx.Provide(
		domain.NewTokenGenerator,
		repository.Provide,
		service.NewService,
	),
)
