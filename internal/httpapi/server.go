// Package httpapi exposes rooms over REST and accepts the realtime websocket.
package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-relay/internal/archive"
	"github.com/park285/cheese-relay/internal/board"
	"github.com/park285/cheese-relay/internal/msgcat"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/relay"
	"github.com/park285/cheese-relay/internal/room"
	"github.com/park285/cheese-relay/pkg/relaydto"
	"go.uber.org/zap"
)

// Deps are the collaborators the HTTP surface routes into.
type Deps struct {
	Rooms      *room.Registry
	Hub        *relay.Hub
	Dispatcher *relay.Dispatcher
	History    archive.Reader
	Board      *board.Renderer
	Messages   *msgcat.Catalog
	Logger     *zap.Logger
}

type Server struct {
	rooms    *room.Registry
	hub      *relay.Hub
	disp     *relay.Dispatcher
	history  archive.Reader
	board    *board.Renderer
	msgs     *msgcat.Catalog
	logger   *zap.Logger
	origins  []string
	patterns []string

	readLimit    int64
	historyLimit int
	newPlayerID  func() string
}

type Option func(*Server)

// WithAllowedOrigins sets the CORS and websocket origin allow-list. "*" allows any.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

func WithReadLimit(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.readLimit = n
		}
	}
}

func WithHistoryLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithPlayerIDs overrides how missing player IDs are generated.
func WithPlayerIDs(next func() string) Option {
	return func(s *Server) {
		if next != nil {
			s.newPlayerID = next
		}
	}
}

func New(d Deps, opts ...Option) *Server {
	s := &Server{
		rooms:        d.Rooms,
		hub:          d.Hub,
		disp:         d.Dispatcher,
		history:      d.History,
		board:        d.Board,
		msgs:         d.Messages,
		logger:       d.Logger,
		origins:      []string{"*"},
		readLimit:    65536,
		historyLimit: 20,
		newPlayerID:  uuid.NewString,
	}
	if s.history == nil {
		s.history = archive.Nop{}
	}
	if s.board == nil {
		s.board = board.NewRenderer()
	}
	if s.msgs == nil {
		s.msgs = msgcat.MustDefault()
	}
	if s.logger == nil {
		s.logger = obslog.L()
	}
	for _, opt := range opts {
		opt(s)
	}
	s.patterns = originPatterns(s.origins)
	return s
}

// Handler returns the routed handler wrapped in CORS and access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /room/create", s.handleCreate)
	mux.HandleFunc("POST /room/join/{code}", s.handleJoin)
	mux.HandleFunc("GET /room/{code}", s.handleRoomInfo)
	mux.HandleFunc("DELETE /room/{code}", s.handleDelete)
	mux.HandleFunc("GET /room/{code}/history", s.handleHistory)
	mux.HandleFunc("GET /room/{code}/board.png", s.handleBoard)
	mux.HandleFunc("GET /player/{id}/room", s.handlePlayerRoom)
	mux.HandleFunc("GET /ws/{code}", s.handleWS)
	return s.cors(s.accessLog(mux))
}

func (s *Server) text(key string, data any, fallback string) string {
	return s.msgs.Text(key, data, fallback)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, relaydto.ErrorResponse{Detail: detail, Code: code})
}

func (s *Server) cors(next http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(s.origins))
	for _, o := range s.origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// websocket upgrades need the raw writer for hijacking
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// originPatterns turns configured origins into host patterns for the
// websocket origin check.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}
