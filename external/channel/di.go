package channel

import (
	"github.com/foxseedlab/kikitori/internal/channel"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/metrics"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (channel.Transport, error) {
		cfg := do.MustInvoke[*config.Config](i)
		m := do.MustInvoke[*metrics.Metrics](i)
		return NewWebSocketTransport(Options{
			URL:               cfg.ChannelURL,
			APIToken:          cfg.APIToken,
			HeartbeatInterval: cfg.HeartbeatInterval,
			HeartbeatGrace:    cfg.HeartbeatGrace,
			Metrics:           m,
		}), nil
	})
}
