// Package httpapi serves the push webhook, health and metrics endpoints.
package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/yanivian/connect-app-sub000/internal/metrics"
	"github.com/yanivian/connect-app-sub000/internal/push"
)

const (
	signatureHeader = "X-Signature"
	maxPushBody     = 64 << 10
)

// Deliverer accepts push messages. *replay.Cache satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, msg push.RemoteMessage) (queued bool, err error)
}

// Server holds the HTTP handlers.
type Server struct {
	deliver Deliverer
	secret  string
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewServer creates the handlers. An empty secret disables signature checks.
func NewServer(d Deliverer, secret string, m *metrics.Metrics, logger *zap.Logger) *Server {
	return &Server{deliver: d, secret: secret, metrics: m, logger: logger}
}

// Router returns the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/push", s.handlePush).Methods(http.MethodPost)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	if len(body) > maxPushBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
		return
	}
	if s.secret != "" && !VerifySignature(body, r.Header.Get(signatureHeader), s.secret) {
		s.logger.Warn("rejecting push with bad signature", zap.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	var msg push.RemoteMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if msg.MessageID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "messageId is required"})
		return
	}

	queued, err := s.deliver.Deliver(r.Context(), msg)
	if err != nil {
		status := http.StatusInternalServerError
		if push.IsPermanent(err) {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"messageId": msg.MessageID, "queued": queued})
}

// VerifySignature checks a hex HMAC-SHA256 of body, optionally prefixed
// with "sha256=".
func VerifySignature(body []byte, signature, secret string) bool {
	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" || secret == "" {
		return false
	}
	expected := Sign(body, secret)
	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ListenAndServe runs the router on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	s.logger.Info("HTTP server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
