package audio

import (
	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.ProvideValue(injector, audio.DeviceOpener(OpenDefaultDevice))
	do.Provide(injector, func(i do.Injector) (*audio.Engine, error) {
		cfg := do.MustInvoke[*config.Config](i)
		open := do.MustInvoke[audio.DeviceOpener](i)
		return audio.NewEngine(open, cfg.AmplitudeMaxHz), nil
	})
}
