package diar

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pzarzycki/livescribe/internal/audio"
	"github.com/pzarzycki/livescribe/internal/errors"
)

// ExecEmbedder is the neural variant: a pretrained speaker model
// (ECAPA-TDNN, WeSpeaker and the like) behind an external command.
// Audio goes out as a temp WAV, the vector comes back as JSON.
type ExecEmbedder struct {
	command   []string
	modelPath string
	dim       int
	timeout   time.Duration
	mu        sync.Mutex
}

type execEmbedding struct {
	Embedding []float32 `json:"embedding"`
}

// NewExecEmbedder builds a neural embedder. dim is the model's output
// dimensionality (192 for ECAPA-TDNN); the model file is checked up
// front so a bad path fails session start.
func NewExecEmbedder(command, modelPath string, dim int) (*ExecEmbedder, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, errors.New(errors.CodeConfig, "embedder command is empty")
	}
	if modelPath != "" {
		if _, err := os.Stat(modelPath); err != nil {
			return nil, errors.Wrapf(err, errors.CodeModelLoad, "speaker model %s", modelPath)
		}
	}
	if dim <= 0 {
		dim = 192
	}
	return &ExecEmbedder{
		command:   args,
		modelPath: modelPath,
		dim:       dim,
		timeout:   10 * time.Second,
	}, nil
}

func (e *ExecEmbedder) Dim() int { return e.dim }

func (e *ExecEmbedder) Embed(samples []int16, sampleRate int) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	path, err := audio.WriteTempWAV("livescribe_emb_*.wav", samples, sampleRate)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeEmbedding, "write temp wav")
	}
	defer os.Remove(path)

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	args := append([]string{}, e.command[1:]...)
	args = append(args, "--audio", path)
	if e.modelPath != "" {
		args = append(args, "--model", e.modelPath)
	}

	cmd := exec.CommandContext(ctx, e.command[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, errors.CodeEmbedding, "embedder exited: %s",
			strings.TrimSpace(stderr.String()))
	}

	var out execEmbedding
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
		return nil, errors.Wrap(err, errors.CodeEmbedding, "decode embedder output")
	}
	if len(out.Embedding) != e.dim {
		return nil, errors.Newf(errors.CodeEmbedding, "embedding dim %d, want %d",
			len(out.Embedding), e.dim)
	}
	return out.Embedding, nil
}
