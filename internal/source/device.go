package source

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/pzarzycki/livescribe/internal/errors"
)

// DeviceSource captures from a microphone via portaudio. The stream is
// opened mono at the requested rate; a read failure is fatal since the
// device is gone or wedged.
type DeviceSource struct {
	name         string
	sampleRate   int
	framesPerBuf int
	cb           Callback
	errFn        ErrorFunc

	mu       sync.Mutex
	stream   *portaudio.Stream
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewDeviceSource captures from the first input device whose name
// contains name, or the default input device when name is empty.
func NewDeviceSource(name string, sampleRate, chunkMS int, cb Callback, errFn ErrorFunc) *DeviceSource {
	if chunkMS <= 0 {
		chunkMS = 20
	}
	return &DeviceSource{
		name:         name,
		sampleRate:   sampleRate,
		framesPerBuf: sampleRate * chunkMS / 1000,
		cb:           cb,
		errFn:        errFn,
	}
}

// ListDevices enumerates input-capable devices.
func ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDevice, "audio subsystem init")
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDevice, "enumerate devices")
	}
	def, _ := portaudio.DefaultInputDevice()

	var out []Device
	for i, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		out = append(out, Device{
			ID:       i,
			Name:     dev.Name,
			Channels: dev.MaxInputChannels,
			Default:  def != nil && dev.Name == def.Name,
		})
	}
	return out, nil
}

// Start opens the device and begins delivering blocks. Errors opening
// the device surface synchronously; errors while reading go through the
// error callback as fatal.
func (s *DeviceSource) Start(ctx context.Context) error {
	if err := portaudio.Initialize(); err != nil {
		return errors.Wrap(err, errors.CodeDeviceFatal, "audio subsystem init")
	}

	dev, err := s.pickDevice()
	if err != nil {
		portaudio.Terminate()
		return err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(s.sampleRate),
		FramesPerBuffer: s.framesPerBuf,
	}

	buf := make([]int16, s.framesPerBuf)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		portaudio.Terminate()
		return errors.Wrapf(err, errors.CodeDeviceFatal, "open device %s", dev.Name)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return errors.Wrapf(err, errors.CodeDeviceFatal, "start device %s", dev.Name)
	}

	devCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.stream = stream
	s.cancel = cancel
	s.mu.Unlock()

	slog.Info("audio capture started", "device", dev.Name, "sample_rate", s.sampleRate)

	go func() {
		for {
			select {
			case <-devCtx.Done():
				return
			default:
			}

			if err := stream.Read(); err != nil {
				select {
				case <-devCtx.Done():
				default:
					s.errFn(errors.Wrapf(err, errors.CodeDeviceFatal, "read device %s", dev.Name), true)
				}
				return
			}
			s.cb(buf, s.sampleRate, 1)
		}
	}()

	return nil
}

func (s *DeviceSource) pickDevice() (*portaudio.DeviceInfo, error) {
	if s.name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeDeviceFatal, "no default input device")
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDeviceFatal, "enumerate devices")
	}
	want := strings.ToLower(s.name)
	for _, dev := range devices {
		if dev.MaxInputChannels >= 1 && strings.Contains(strings.ToLower(dev.Name), want) {
			return dev, nil
		}
	}
	return nil, errors.Newf(errors.CodeDeviceFatal, "no input device matching %q", s.name)
}

// Stop closes the stream. Idempotent.
func (s *DeviceSource) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cancel != nil {
			s.cancel()
		}
		if s.stream != nil {
			_ = s.stream.Stop()
			_ = s.stream.Close()
		}
		_ = portaudio.Terminate()
	})
}
