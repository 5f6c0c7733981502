package session

import (
	"github.com/foxseedlab/kikitori/internal/channel"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/metrics"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/foxseedlab/kikitori/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Coordinator, error) {
		cfg := do.MustInvoke[*config.Config](i)
		deps := Dependencies{
			Backend: do.MustInvoke[transcriber.Backend](i),
			Repo:    do.MustInvoke[repository.Repository](i),
			Webhook: do.MustInvoke[webhook.Sender](i),
			Metrics: do.MustInvoke[*metrics.Metrics](i),
		}
		if cfg.UsesChannel() {
			deps.Transport = do.MustInvoke[channel.Transport](i)
		}
		return NewCoordinator(deps, OptionsFromConfig(cfg)), nil
	})
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		UseChannel:      cfg.UsesChannel(),
		PollInterval:    cfg.PollInterval,
		PollMaxAttempts: cfg.PollMaxAttempts,
		QueueSize:       cfg.ChunkQueueSize,
		Timezone:        cfg.TranscriptTimezone,
	}
}
