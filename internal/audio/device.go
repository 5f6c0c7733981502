package audio

// NativeFormat is the format the input device delivers: interleaved float32
// samples at SampleRate with Channels channels.
type NativeFormat struct {
	SampleRate float64
	Channels   int
}

type Device interface {
	Format() (NativeFormat, error)
	Start(callback func(samples []float32)) error
	Stop() error
	Close() error
}

type DeviceOpener func() (Device, error)

type DeviceInfo struct {
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	IsDefault         bool
}
