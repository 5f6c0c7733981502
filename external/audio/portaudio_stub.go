//go:build !portaudio

package audio

import (
	"fmt"

	"github.com/foxseedlab/kikitori/internal/audio"
)

func OpenDefaultDevice() (audio.Device, error) {
	return nil, fmt.Errorf("%w: built without portaudio support", audio.ErrDeviceUnavailable)
}

func ListDevices() ([]audio.DeviceInfo, error) {
	return nil, fmt.Errorf("%w: built without portaudio support", audio.ErrDeviceUnavailable)
}
