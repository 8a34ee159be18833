// Package server exposes the pipeline over HTTP and WebSocket
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/pzarzycki/livescribe/internal/controller"
	"github.com/pzarzycki/livescribe/internal/source"
	"github.com/pzarzycki/livescribe/internal/trace"
)

// Outbound message types.
type segmentMessage struct {
	Type    string             `json:"type"`
	Segment controller.Segment `json:"segment"`
}

type statusMessage struct {
	Type   string            `json:"type"`
	Status controller.Status `json:"status"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type reclassMessage struct {
	Type             string                      `json:"type"`
	Reclassification controller.Reclassification `json:"reclassification"`
}

type speakersMessage struct {
	Type     string                    `json:"type"`
	Speakers []controller.SpeakerStats `json:"speakers"`
}

// Server broadcasts pipeline events to WebSocket clients and serves the
// REST query and control surface.
type Server struct {
	ctrl   *controller.Controller
	events chan any

	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

// New wires a server to a controller's event streams.
func New(ctrl *controller.Controller) *Server {
	s := &Server{
		ctrl:   ctrl,
		events: make(chan any, EventBufferSize),
		conns:  make(map[*websocket.Conn]struct{}),
	}

	ctrl.OnSegment(func(seg controller.Segment) {
		s.publish(segmentMessage{Type: "segment", Segment: seg})
	})
	ctrl.OnStatus(func(st controller.Status) {
		s.publish(statusMessage{Type: "status", Status: st})
	})
	ctrl.OnError(func(err error) {
		s.publish(errorMessage{Type: "error", Message: err.Error()})
	})
	ctrl.OnReclassification(func(r controller.Reclassification) {
		s.publish(reclassMessage{Type: "reclassification", Reclassification: r})
	})
	ctrl.OnSpeakerStats(func(stats []controller.SpeakerStats) {
		s.publish(speakersMessage{Type: "speakers", Speakers: stats})
	})

	go s.broadcast()
	return s
}

// publish queues an event for fanout; the processing loop never waits
// on a slow client.
func (s *Server) publish(msg any) {
	select {
	case s.events <- msg:
	default:
		slog.Debug("event buffer full, dropping event")
	}
}

func (s *Server) broadcast() {
	for msg := range s.events {
		s.mu.RLock()
		for conn := range s.conns {
			go func(c *websocket.Conn, m any) {
				_ = wsjson.Write(context.Background(), c, m)
			}(conn, msg)
		}
		s.mu.RUnlock()
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/segments", s.handleSegments)
	mux.HandleFunc("GET /api/speakers", s.handleSpeakers)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("POST /api/pause", s.handlePause)
	mux.HandleFunc("POST /api/resume", s.handleResume)
	mux.HandleFunc("POST /api/history/clear", s.handleClearHistory)

	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	// Greet with the current status so clients need no separate fetch.
	_ = wsjson.Write(ctx, conn, statusMessage{Type: "status", Status: s.ctrl.Status()})

	// The stream is outbound-only; reading just detects disconnect.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			log.Debug("websocket closed", "error", err)
			return
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ctrl.Status())
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	segments := s.ctrl.Segments()
	if len(segments) > SegmentPageLimit {
		segments = segments[len(segments)-SegmentPageLimit:]
	}
	writeJSON(w, map[string]any{"segments": segments})
}

func (s *Server) handleSpeakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"speakers": s.ctrl.SpeakerStats()})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := source.ListDevices()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{"devices": devices})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if !s.ctrl.Pause() {
		http.Error(w, "not running", http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !s.ctrl.Resume() {
		http.Error(w, "not paused", http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"status": "running"})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	s.ctrl.ClearHistory()
	writeJSON(w, map[string]string{"status": "cleared"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode error", "error", err)
	}
}
