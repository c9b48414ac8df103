package statusfeed

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-sight/pkg/sight"
)

type requestIDKey struct{}

// RequestIDFrom returns the id assigned to the request by the feed.
func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" || len(id) > 64 {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func newRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("sf_%x", time.Now().UnixNano())
	}
	return "sf_" + hex.EncodeToString(b)
}

// withRecover turns a handler panic into a 500 with the usual error envelope.
// Upgraded websocket connections are left alone.
func withRecover(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			id, _ := RequestIDFrom(r.Context())
			logger.Error("status feed handler panic", "panic", v, "path", r.URL.Path, "request_id", id)
			if rec.hijacked || rec.wrote {
				return
			}
			writeJSON(rec, http.StatusInternalServerError, errorEnvelope{Error: &sight.Error{Kind: sight.KindTransport, Message: "internal error"}})
		}()
		next.ServeHTTP(rec, r)
	})
}

// quietPaths are polled by UIs and scrapers; they log at debug.
var quietPaths = map[string]bool{
	"/healthz":  true,
	"/v1/state": true,
	"/metrics":  true,
}

func withAccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if quietPaths[r.URL.Path] && rec.status < 400 {
			level = slog.LevelDebug
		}
		id, _ := RequestIDFrom(r.Context())
		logger.Log(r.Context(), level, "status feed request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// recorder captures the response status. Hijack is passed through so
// /v1/events can upgrade to a websocket.
type recorder struct {
	http.ResponseWriter
	status   int
	wrote    bool
	hijacked bool
}

func (w *recorder) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recorder) Write(p []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(p)
}

func (w *recorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("statusfeed: connection cannot be hijacked")
	}
	w.status = http.StatusSwitchingProtocols
	w.hijacked = true
	return hj.Hijack()
}

func (w *recorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }
