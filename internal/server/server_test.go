package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pzarzycki/livescribe/internal/asr"
	"github.com/pzarzycki/livescribe/internal/controller"
	"github.com/pzarzycki/livescribe/internal/diar"
)

type flatEmbedder struct{}

func (flatEmbedder) Embed([]int16, int) ([]float32, error) { return []float32{1, 0}, nil }
func (flatEmbedder) Dim() int                              { return 2 }

func newTestServer(t *testing.T) (*Server, *controller.Controller) {
	t.Helper()
	rec := asr.RecognizerFunc(func(_ context.Context, samples []int16, sampleRate int) ([]asr.Span, error) {
		durMS := int64(len(samples)) * 1000 / int64(sampleRate)
		return []asr.Span{{Text: "hello", T0: 0, T1: durMS}}, nil
	})
	clusterer := diar.NewClusterer(diar.ClustererConfig{})
	analyzer := diar.NewFrameAnalyzer(flatEmbedder{}, clusterer, diar.AnalyzerConfig{SampleRate: 16000}, nil)
	ctrl, err := controller.New(rec, analyzer, clusterer, controller.Config{
		WindowSeconds:  4,
		OverlapSeconds: 2,
	})
	if err != nil {
		t.Fatalf("controller.New() error: %v", err)
	}
	return New(ctrl), ctrl
}

func runSession(t *testing.T, ctrl *controller.Controller) {
	t.Helper()
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	samples := make([]int16, 5*16000)
	for i := range samples {
		samples[i] = 100
	}
	ctrl.AddAudio(samples, 16000)
	ctrl.Stop()
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/status", http.NoBody)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var st controller.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.State != controller.StateIdle {
		t.Errorf("state = %s, want idle", st.State)
	}
}

func TestSegmentsEndpoint(t *testing.T) {
	s, ctrl := newTestServer(t)
	runSession(t, ctrl)

	req := httptest.NewRequest("GET", "/api/segments", http.NoBody)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Segments []controller.Segment `json:"segments"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode segments: %v", err)
	}
	if len(body.Segments) == 0 {
		t.Error("no segments after session")
	}
	for _, seg := range body.Segments {
		if seg.Text != "hello" {
			t.Errorf("segment text = %q, want hello", seg.Text)
		}
	}
}

func TestSpeakersEndpoint(t *testing.T) {
	s, ctrl := newTestServer(t)
	runSession(t, ctrl)

	req := httptest.NewRequest("GET", "/api/speakers", http.NoBody)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Speakers []controller.SpeakerStats `json:"speakers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode speakers: %v", err)
	}
	if len(body.Speakers) != 1 {
		t.Errorf("speakers = %d, want 1", len(body.Speakers))
	}
}

func TestPauseResumeEndpoints(t *testing.T) {
	s, ctrl := newTestServer(t)

	// Pause without a running session conflicts.
	req := httptest.NewRequest("POST", "/api/pause", http.NoBody)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("pause while idle = %d, want %d", rec.Code, http.StatusConflict)
	}

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer ctrl.Stop()

	req = httptest.NewRequest("POST", "/api/pause", http.NoBody)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("pause = %d, want %d", rec.Code, http.StatusOK)
	}

	req = httptest.NewRequest("POST", "/api/resume", http.NoBody)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("resume = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestClearHistoryEndpoint(t *testing.T) {
	s, ctrl := newTestServer(t)
	runSession(t, ctrl)

	req := httptest.NewRequest("POST", "/api/history/clear", http.NoBody)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(ctrl.Segments()) != 0 {
		t.Error("segments remain after clear")
	}
}
