package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/pzarzycki/livescribe/internal/audio"
	"github.com/pzarzycki/livescribe/internal/errors"
)

// execRecognizer shells out to a whisper-style CLI: audio goes out as a
// temp WAV, spans come back as JSON on stdout. One invocation at a time;
// the processing loop is the only caller anyway.
type execRecognizer struct {
	command   []string
	modelPath string
	mu        sync.Mutex
}

type execSpan struct {
	Text string `json:"text"`
	T0Ms int64  `json:"t0_ms"`
	T1Ms int64  `json:"t1_ms"`
}

// NewExecRecognizer builds a recognizer around an external command.
// The model file is checked up front so a bad path fails the session
// start instead of the first window.
func NewExecRecognizer(command, modelPath string) (Recognizer, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, errors.New(errors.CodeConfig, "recognizer command is empty")
	}
	if modelPath != "" {
		if _, err := os.Stat(modelPath); err != nil {
			return nil, errors.Wrapf(err, errors.CodeModelLoad, "recognition model %s", modelPath)
		}
	}
	return &execRecognizer{command: args, modelPath: modelPath}, nil
}

func (r *execRecognizer) Recognize(ctx context.Context, samples []int16, sampleRate int) ([]Span, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, err := audio.WriteTempWAV("livescribe_asr_*.wav", samples, sampleRate)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeRecognition, "write temp wav")
	}
	defer os.Remove(path)

	args := append([]string{}, r.command[1:]...)
	args = append(args, "--audio", path)
	if r.modelPath != "" {
		args = append(args, "--model", r.modelPath)
	}

	cmd := exec.CommandContext(ctx, r.command[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, errors.CodeRecognition, "recognizer exited: %s",
			strings.TrimSpace(stderr.String()))
	}

	return parseSpans(stdout.Bytes())
}

// parseSpans decodes the recognizer's JSON output, dropping empty and
// malformed entries rather than failing the window over them.
func parseSpans(out []byte) ([]Span, error) {
	var raw []execSpan
	if err := json.Unmarshal(bytes.TrimSpace(out), &raw); err != nil {
		return nil, errors.Wrap(err, errors.CodeRecognition, "decode recognizer output")
	}

	spans := make([]Span, 0, len(raw))
	for _, s := range raw {
		text := strings.TrimSpace(s.Text)
		if text == "" || s.T1Ms <= s.T0Ms {
			continue
		}
		spans = append(spans, Span{Text: text, T0: s.T0Ms, T1: s.T1Ms})
	}
	return spans, nil
}
