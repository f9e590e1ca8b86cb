// ABOUTME: Request handling for the inbound ingress route and the root fallback
// ABOUTME: Parses {"message","prefix"}, answers the caller, then relays to the host

package inbound

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/2389/aether-bridge/internal/store"
)

const (
	// MaxMessageLength is the longest composed message, in characters, that
	// is delivered to the host. Longer messages are accepted over HTTP but
	// dropped before delivery.
	MaxMessageLength = 256

	maxBodyBytes = 64 << 10
)

var (
	errMissingMessage = errors.New("missing message field")
	errNotObject      = errors.New("body is not a JSON object")
)

// sendRequest is the parsed ingress body.
type sendRequest struct {
	Message string
	Prefix  string // empty when absent
}

// FullMessage composes the text delivered to the host.
func (s sendRequest) FullMessage() string {
	if s.Prefix == "" {
		return s.Message
	}
	return fmt.Sprintf("[%s] %s", s.Prefix, s.Message)
}

// requireEnabled rejects every request while the feature is disabled. It
// also asks for the connection to be closed after every response.
func (r *Receiver) requireEnabled(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Connection", "close")
		if !r.enabled() {
			r.logger.Warn("receiver disabled, rejecting request", "remote", req.RemoteAddr)
			w.WriteHeader(http.StatusServiceUnavailable)
			r.record(store.KindRejected, req.RemoteAddr, http.StatusServiceUnavailable, "", "receiver disabled")
			return
		}
		next.ServeHTTP(w, req)
	})
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		setCORSHeaders(w.Header())
		next.ServeHTTP(w, req)
	})
}

// preflight answers OPTIONS with 204 and no body.
func preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// handleRoot answers everything outside the ingress route: 204 for OPTIONS,
// 404 otherwise, always with CORS headers.
func (r *Receiver) handleRoot(w http.ResponseWriter, req *http.Request) {
	r.logger.Debug("request outside ingress route", "remote", req.RemoteAddr, "method", req.Method, "path", req.URL.Path)
	setCORSHeaders(w.Header())
	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

// handleSend runs after the enabled check, CORS and authentication.
func (r *Receiver) handleSend(w http.ResponseWriter, req *http.Request) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic handling inbound request", "panic", p)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
	}()

	r.logger.Info("inbound message request", "remote", req.RemoteAddr, "method", req.Method)

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err != nil {
		r.logger.Error("reading request body", "remote", req.RemoteAddr, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	r.logger.Debug("request body", "body", string(body))

	sr, err := parseSendRequest(body)
	if errors.Is(err, errMissingMessage) {
		r.logger.Warn("request missing message field", "remote", req.RemoteAddr)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing message field"})
		return
	}
	if err != nil {
		r.logger.Error("parsing request body", "remote", req.RemoteAddr, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	r.logger.Info("received message", "message", sr.Message, "prefix", sr.Prefix)
	r.deliver(sr.FullMessage(), req.RemoteAddr)

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// parseSendRequest decodes the ingress body. The body must be a JSON object
// whose message member is a string; prefix is optional and an empty or null
// prefix counts as absent.
func parseSendRequest(body []byte) (sendRequest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return sendRequest{}, fmt.Errorf("decoding body: %w", err)
	}
	if fields == nil {
		return sendRequest{}, errNotObject
	}

	rawMessage, ok := fields["message"]
	if !ok {
		return sendRequest{}, errMissingMessage
	}

	var sr sendRequest
	if err := decodeString(rawMessage, &sr.Message); err != nil {
		return sendRequest{}, fmt.Errorf("message: %w", err)
	}

	if rawPrefix, ok := fields["prefix"]; ok && string(rawPrefix) != "null" {
		if err := decodeString(rawPrefix, &sr.Prefix); err != nil {
			return sendRequest{}, fmt.Errorf("prefix: %w", err)
		}
	}
	return sr, nil
}

// decodeString requires raw to be a JSON string; null is rejected.
func decodeString(raw json.RawMessage, dst *string) error {
	if string(raw) == "null" {
		return errors.New("null is not a string")
	}
	return json.Unmarshal(raw, dst)
}

// deliver relays text to the host's execution context. The HTTP outcome is
// already decided; failures here are logged and journaled only.
func (r *Receiver) deliver(text, remote string) {
	if n := utf8.RuneCountInString(text); n > MaxMessageLength {
		r.logger.Warn("message too long, dropping", "length", n, "max", MaxMessageLength)
		r.record(store.KindDropped, remote, 0, text, "message too long")
		return
	}
	if !r.host.Running() {
		r.logger.Error("host not running, dropping message")
		r.record(store.KindDropped, remote, 0, text, "host not running")
		return
	}

	err := r.host.Execute(func() {
		r.host.Broadcast(text)
		r.logger.Debug("message broadcast", "message", text)
		r.record(store.KindDelivered, remote, 0, text, "")
	})
	if err != nil {
		r.logger.Error("failed to schedule broadcast", "error", err)
		r.record(store.KindDropped, remote, 0, text, err.Error())
		return
	}
	r.logger.Info("message queued for broadcast", "message", text)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
