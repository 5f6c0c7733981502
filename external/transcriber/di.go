package transcriber

import (
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/metrics"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcriber.Backend, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewHTTPBackend(HTTPBackendConfig{
			BaseURL:  c.BackendBaseURL,
			APIToken: c.APIToken,
			Timeout:  c.HTTPTimeout,
			Metrics:  do.MustInvoke[*metrics.Metrics](i),
		}), nil
	})
}
