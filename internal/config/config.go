// Package config handles pipeline configuration
package config

import (
	"os"
	"strconv"
)

// Config is the enumerated tuning surface of the pipeline. The streaming
// and hysteresis defaults were tuned empirically; treat them as starting
// points, not derived constants.
type Config struct {
	HTTPAddr string

	// Canonical processing rate. Incoming audio is resampled to this.
	SampleRate int

	// Sliding window.
	WindowDurationS  int
	OverlapDurationS int
	SilenceFloorDBFS float64

	// Ingest queue.
	QueueBound int

	// Speaker clustering.
	MaxSpeakers         int
	SimilarityThreshold float64
	SwitchMargin        float64
	StabilityFrames     int

	// Frame embedding cadence.
	FrameHopMs      int
	FrameWindowMs   int
	FrameRetentionS int

	// External capabilities.
	RecognizerCmd   string
	RecognizerModel string
	EmbedderKind    string // "handcrafted" or "neural"
	EmbedderCmd     string
	EmbedderModel   string

	// Input selection. InputFile switches to file-sourced streaming.
	InputFile   string
	InputDevice string
	ChunkMs     int
}

func Load() *Config {
	return &Config{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8000"),
		SampleRate:          getEnvInt("SAMPLE_RATE", 16000),
		WindowDurationS:     getEnvInt("WINDOW_DURATION_S", 10),
		OverlapDurationS:    getEnvInt("OVERLAP_DURATION_S", 5),
		SilenceFloorDBFS:    getEnvFloat("SILENCE_FLOOR_DBFS", -55.0),
		QueueBound:          getEnvInt("QUEUE_BOUND", 500),
		MaxSpeakers:         getEnvInt("MAX_SPEAKERS", 2),
		SimilarityThreshold: getEnvFloat("SIMILARITY_THRESHOLD", 0.65),
		SwitchMargin:        getEnvFloat("SWITCH_MARGIN", 0.15),
		StabilityFrames:     getEnvInt("STABILITY_FRAMES", 3),
		FrameHopMs:          getEnvInt("FRAME_HOP_MS", 250),
		FrameWindowMs:       getEnvInt("FRAME_WINDOW_MS", 1000),
		FrameRetentionS:     getEnvInt("FRAME_RETENTION_S", 600),
		RecognizerCmd:       getEnv("RECOGNIZER_CMD", ""),
		RecognizerModel:     getEnv("RECOGNIZER_MODEL", ""),
		EmbedderKind:        getEnv("EMBEDDER", "handcrafted"),
		EmbedderCmd:         getEnv("EMBEDDER_CMD", ""),
		EmbedderModel:       getEnv("EMBEDDER_MODEL", ""),
		InputFile:           getEnv("INPUT_FILE", ""),
		InputDevice:         getEnv("INPUT_DEVICE", ""),
		ChunkMs:             getEnvInt("CHUNK_MS", 20),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
