package syncd

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tempolog/tempolog/internal/syncwire"
)

const (
	pullPageSize = 500
	maxLongPoll  = 25 * time.Second
)

type ctxKey string

const replicaKey ctxKey = "replica"

// ReplicaFromContext returns the authenticated replica identity.
func ReplicaFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(replicaKey).(string)
	return v, ok
}

// Server serves the sync protocol over HTTP.
type Server struct {
	authority *Authority
	tokens    *Tokens
	notifier  Notifier
	logger    *slog.Logger
}

// ServerConfig carries the router's tunables.
type ServerConfig struct {
	CORSAllowedOrigins []string
}

// NewServer wires the authority, token service, and notifier together.
func NewServer(authority *Authority, tokens *Tokens, notifier Notifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		authority: authority,
		tokens:    tokens,
		notifier:  notifier,
		logger:    logger,
	}
}

// Router builds the HTTP handler.
func (s *Server) Router(cfg ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/handshake", s.handleHandshake)
		r.Post("/push", s.handlePush)
		r.Get("/pull", s.handlePull)
	})

	return r
}

// requireAuth rejects requests without a valid bearer token and stores
// the replica identity on the context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if h == "" || !strings.HasPrefix(h, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		replica, err := s.tokens.Verify(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), replicaKey, replica)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// logRequests emits one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	replica, _ := ReplicaFromContext(r.Context())
	head, err := s.authority.Head(r.Context())
	if err != nil {
		s.logger.Error("handshake failed", "error", err)
		writeError(w, http.StatusInternalServerError, "stream unavailable")
		return
	}
	writeJSON(w, http.StatusOK, syncwire.HandshakeResponse{
		ProtocolVersion: syncwire.ProtocolVersion,
		Head:            head,
		Replica:         replica,
	})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req syncwire.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed push body")
		return
	}
	replica, _ := ReplicaFromContext(r.Context())

	for _, rec := range req.Events {
		switch {
		case rec.ID == "" || rec.Name == "" || rec.Origin == "":
			writeError(w, http.StatusBadRequest, "event missing id, name, or origin")
			return
		case strings.HasPrefix(rec.Name, "local."):
			// Local-only events must never reach the shared stream.
			writeError(w, http.StatusBadRequest, "local-only event "+rec.ID+" in push")
			return
		case !json.Valid(rec.Payload):
			writeError(w, http.StatusBadRequest, "event "+rec.ID+" payload is not valid JSON")
			return
		case rec.Origin != replica:
			writeError(w, http.StatusForbidden, "event "+rec.ID+" origin does not match token")
			return
		}
	}

	accepted, duplicate, err := s.authority.Accept(r.Context(), req.Events)
	if err != nil {
		s.logger.Error("push failed", "replica", replica, "error", err)
		writeError(w, http.StatusInternalServerError, "stream unavailable")
		return
	}
	head, err := s.authority.Head(r.Context())
	if err != nil {
		s.logger.Error("push failed", "replica", replica, "error", err)
		writeError(w, http.StatusInternalServerError, "stream unavailable")
		return
	}

	if len(accepted) > 0 {
		if err := s.notifier.Publish(r.Context()); err != nil {
			// Pull still observes the events on its next poll interval.
			s.logger.Warn("wake publish failed", "error", err)
		}
	}

	s.logger.Debug("push settled",
		"replica", replica,
		"accepted", len(accepted),
		"duplicate", len(duplicate),
	)
	writeJSON(w, http.StatusOK, syncwire.PushResponse{
		Accepted:  accepted,
		Duplicate: duplicate,
		Head:      head,
	})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	cursor, err := parseInt64(r.URL.Query().Get("cursor"), 0)
	if err != nil || cursor < 0 {
		writeError(w, http.StatusBadRequest, "malformed cursor")
		return
	}
	waitMS, err := parseInt64(r.URL.Query().Get("wait_ms"), 0)
	if err != nil || waitMS < 0 {
		writeError(w, http.StatusBadRequest, "malformed wait_ms")
		return
	}

	records, err := s.authority.After(r.Context(), cursor, pullPageSize)
	if err != nil {
		s.logger.Error("pull failed", "error", err)
		writeError(w, http.StatusInternalServerError, "stream unavailable")
		return
	}

	// Long poll: hold the request open until the stream advances or the
	// wait expires, then re-read once.
	if len(records) == 0 && waitMS > 0 {
		wait := time.Duration(waitMS) * time.Millisecond
		if wait > maxLongPoll {
			wait = maxLongPoll
		}
		wake, release := s.notifier.Subscribe()
		defer release()

		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-wake:
			records, err = s.authority.After(r.Context(), cursor, pullPageSize)
			if err != nil {
				s.logger.Error("pull failed", "error", err)
				writeError(w, http.StatusInternalServerError, "stream unavailable")
				return
			}
		case <-timer.C:
		case <-r.Context().Done():
			return
		}
	}

	next := cursor
	if len(records) > 0 {
		next = records[len(records)-1].GlobalSeq
	}
	writeJSON(w, http.StatusOK, syncwire.PullResponse{
		Records: records,
		Cursor:  next,
		More:    len(records) == pullPageSize,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, syncwire.ErrorResponse{Error: msg})
}

func parseInt64(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
