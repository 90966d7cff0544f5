package service

import (
	"go.uber.org/fx"

	"github.com/okian/mindshare/internal/config"
	"github.com/okian/mindshare/pkg/logger"
)

// Module provides the Service and ties Start and Stop to the fx lifecycle.
var Module = fx.Module("service",
	fx.Provide(func(cfg *config.Config) (*Service, error) {
		return New(cfg, WithLogger(logger.Named("service")))
	}),
	fx.Provide(func(s *Service) *Query { return s.Query() }),
	fx.Invoke(func(lc fx.Lifecycle, s *Service) {
		lc.Append(fx.Hook{
			OnStart: s.Start,
			OnStop:  s.Stop,
		})
	}),
)
