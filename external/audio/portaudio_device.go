//go:build portaudio

package audio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/gordonklaus/portaudio"
)

const framesPerBuffer = 1024

var (
	paMu   sync.Mutex
	paRefs int
)

func acquirePortAudio() error {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
		}
	}
	paRefs++
	return nil
}

func releasePortAudio() {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		return
	}
	paRefs--
	if paRefs == 0 {
		_ = portaudio.Terminate()
	}
}

type portAudioDevice struct {
	info   *portaudio.DeviceInfo
	format audio.NativeFormat

	mu       sync.Mutex
	stream   *portaudio.Stream
	running  bool
	closed   bool
	callback atomic.Pointer[func([]float32)]
}

func OpenDefaultDevice() (audio.Device, error) {
	if err := acquirePortAudio(); err != nil {
		return nil, err
	}
	info, err := portaudio.DefaultInputDevice()
	if err != nil || info == nil || info.MaxInputChannels <= 0 {
		releasePortAudio()
		return nil, fmt.Errorf("%w: no default input device: %v", audio.ErrDeviceUnavailable, err)
	}
	channels := info.MaxInputChannels
	if channels > 2 {
		channels = 2
	}
	return &portAudioDevice{
		info: info,
		format: audio.NativeFormat{
			SampleRate: info.DefaultSampleRate,
			Channels:   channels,
		},
	}, nil
}

func (d *portAudioDevice) Format() (audio.NativeFormat, error) {
	return d.format, nil
}

func (d *portAudioDevice) Start(callback func([]float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("%w: device closed", audio.ErrDeviceUnavailable)
	}
	d.callback.Store(&callback)
	if d.running {
		return nil
	}
	if d.stream == nil {
		params := portaudio.LowLatencyParameters(d.info, nil)
		params.Input.Channels = d.format.Channels
		params.SampleRate = d.format.SampleRate
		params.FramesPerBuffer = framesPerBuffer
		stream, err := portaudio.OpenStream(params, d.dispatch)
		if err != nil {
			return fmt.Errorf("%w: open stream: %v", audio.ErrDeviceUnavailable, err)
		}
		d.stream = stream
	}
	if err := d.stream.Start(); err != nil {
		return fmt.Errorf("%w: start stream: %v", audio.ErrDeviceUnavailable, err)
	}
	d.running = true
	return nil
}

func (d *portAudioDevice) dispatch(in []float32) {
	if cb := d.callback.Load(); cb != nil {
		(*cb)(in)
	}
}

func (d *portAudioDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.running = false
	return d.stream.Stop()
}

func (d *portAudioDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var err error
	if d.stream != nil {
		if d.running {
			_ = d.stream.Stop()
			d.running = false
		}
		err = d.stream.Close()
		d.stream = nil
	}
	releasePortAudio()
	return err
}

func ListDevices() ([]audio.DeviceInfo, error) {
	if err := acquirePortAudio(); err != nil {
		return nil, err
	}
	defer releasePortAudio()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate audio devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()
	var out []audio.DeviceInfo
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, audio.DeviceInfo{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			IsDefault:         def != nil && d.Name == def.Name,
		})
	}
	return out, nil
}
