package source

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/pzarzycki/livescribe/internal/errors"
)

// FileSource replays a WAV file as a live stream, delivering blocks of
// chunkMS. With pacing enabled it sleeps between blocks to mimic a real
// device; without it the whole file streams as fast as the consumer
// keeps up.
type FileSource struct {
	path    string
	chunkMS int
	paced   bool
	cb      Callback
	errFn   ErrorFunc

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewFileSource creates a WAV replay source.
func NewFileSource(path string, chunkMS int, paced bool, cb Callback, errFn ErrorFunc) *FileSource {
	if chunkMS <= 0 {
		chunkMS = 20
	}
	return &FileSource{
		path:    path,
		chunkMS: chunkMS,
		paced:   paced,
		cb:      cb,
		errFn:   errFn,
		done:    make(chan struct{}),
	}
}

// Done closes when the file is exhausted or the source stopped.
func (f *FileSource) Done() <-chan struct{} { return f.done }

// Start validates the file and begins streaming in the background.
func (f *FileSource) Start(ctx context.Context) error {
	fh, err := os.Open(f.path)
	if err != nil {
		return errors.Wrapf(err, errors.CodeDeviceFatal, "open %s", f.path)
	}
	dec := wav.NewDecoder(fh)
	if !dec.IsValidFile() {
		fh.Close()
		return errors.Newf(errors.CodeDeviceFatal, "%s is not a valid wav file", f.path)
	}

	format := dec.Format()
	slog.Info("streaming audio file",
		"path", f.path,
		"sample_rate", format.SampleRate,
		"channels", format.NumChannels,
		"paced", f.paced)

	ctx, f.cancel = context.WithCancel(ctx)
	go f.stream(ctx, fh, dec, format)
	return nil
}

func (f *FileSource) stream(ctx context.Context, fh *os.File, dec *wav.Decoder, format *gaudio.Format) {
	defer close(f.done)
	defer fh.Close()

	frames := format.SampleRate * f.chunkMS / 1000
	buf := &gaudio.IntBuffer{
		Format: format,
		Data:   make([]int, frames*format.NumChannels),
	}
	block := make([]int16, len(buf.Data))
	interval := time.Duration(f.chunkMS) * time.Millisecond
	next := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := dec.PCMBuffer(buf)
		if err != nil {
			f.errFn(errors.Wrapf(err, errors.CodeDevice, "read %s", f.path), false)
			return
		}
		if n == 0 {
			return
		}

		for i := 0; i < n; i++ {
			block[i] = int16(buf.Data[i])
		}
		f.cb(block[:n], format.SampleRate, format.NumChannels)

		if f.paced {
			next = next.Add(interval)
			if d := time.Until(next); d > 0 {
				time.Sleep(d)
			}
		}
	}
}

// Stop aborts playback. Idempotent.
func (f *FileSource) Stop() {
	f.stopOnce.Do(func() {
		if f.cancel != nil {
			f.cancel()
		}
	})
}
