package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/nirmal91/omni-ask/internal/domain"
	"github.com/nirmal91/omni-ask/internal/infra/tracer"
)

// chatStreamRequest is the inbound JSON body of the stream endpoint.
type chatStreamRequest struct {
	Provider            string        `json:"provider"`
	Question            string        `json:"question"`
	ConversationHistory []domain.Turn `json:"conversationHistory,omitempty"`
}

// handleChatStream validates the canonical request, resolves the caller's
// credential and re-emits the selected wire adapter's canonical events as
// the outbound SSE protocol, flushing per event.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	client, err := s.authenticate(r)
	if err != nil {
		httpError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req chatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Provider == "" || req.Question == "" {
		httpError(w, http.StatusBadRequest, "provider and question are required")
		return
	}
	provider, err := domain.ParseProvider(req.Provider)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, span := tracer.StartSpan(r.Context(), "relay.chat_stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", provider.String()),
			tracer.StringAttr("relay.caller", client.Name),
		),
	)
	defer span.End()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sw := &sseWriter{w: w, flusher: flusher}

	// The connection must always close with a well-formed terminal record,
	// even if a handler bug panics mid-stream.
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("chat stream panic", "provider", provider, "panic", rec)
			sw.writeEvent(domain.ErrorEvent("internal error"))
		}
	}()

	apiKey, err := s.resolveCredential(r, client.Name, provider)
	if err != nil {
		tracer.RecordError(span, err)
		sw.writeEvent(domain.ErrorEvent(fmt.Sprintf("no API key configured for %s", provider)))
		return
	}

	streamer, ok := s.deps.Streamers[provider]
	if !ok {
		sw.writeEvent(domain.ErrorEvent(fmt.Sprintf("provider %s is not available", provider)))
		return
	}

	canonical := domain.ChatRequest{
		Provider:   provider,
		Question:   req.Question,
		PriorTurns: req.ConversationHistory,
	}

	ch, err := streamer.Stream(ctx, apiKey, canonical.Messages())
	if err != nil {
		tracer.RecordError(span, err)
		s.logger.Warn("upstream stream failed to open", "provider", provider, "err", err)
		sw.writeEvent(domain.ErrorEvent(err.Error()))
		return
	}

	for ev := range ch {
		if !sw.writeEvent(ev) {
			// Caller went away; the stream context aborts the upstream read.
			return
		}
		if ev.Terminal() {
			break
		}
	}
	tracer.SetOK(span)
}

// resolveCredential looks up the caller's own key first, then the shared
// fallback for the provider. The resolved value is handed to the wire
// adapter and never logged.
func (s *Server) resolveCredential(r *http.Request, caller string, provider domain.Provider) (string, error) {
	if s.deps.Keys != nil {
		key, err := s.deps.Keys.Resolve(r.Context(), caller, provider)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, domain.ErrNoCredential) {
			return "", err
		}
	}
	if key := s.deps.SharedKeys[provider]; key != "" {
		return key, nil
	}
	return "", domain.NewDomainError("relay.resolveCredential", domain.ErrNoCredential, provider.String())
}

// --- key management ---

type putKeyRequest struct {
	APIKey string `json:"api_key"`
}

func (s *Server) handlePutKey(w http.ResponseWriter, r *http.Request) {
	client, err := s.authenticate(r)
	if err != nil {
		httpError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if s.deps.Keys == nil {
		httpError(w, http.StatusNotImplemented, "keystore disabled")
		return
	}

	provider, err := domain.ParseProvider(r.PathValue("provider"))
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req putKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" {
		httpError(w, http.StatusBadRequest, "api_key is required")
		return
	}

	if err := s.deps.Keys.Put(r.Context(), client.Name, provider, req.APIKey); err != nil {
		s.logger.Error("keystore put failed", "provider", provider, "err", err)
		httpError(w, http.StatusInternalServerError, "store key failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	client, err := s.authenticate(r)
	if err != nil {
		httpError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if s.deps.Keys == nil {
		httpError(w, http.StatusNotImplemented, "keystore disabled")
		return
	}

	provider, err := domain.ParseProvider(r.PathValue("provider"))
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Keys.Delete(r.Context(), client.Name, provider); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Error("keystore delete failed", "provider", provider, "err", err)
		httpError(w, http.StatusInternalServerError, "delete key failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- status ---

type statusResponse struct {
	Status    string   `json:"status"`
	Providers []string `json:"providers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil {
		httpError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	resp := statusResponse{Status: "ok"}
	for _, p := range domain.AllProviders {
		if _, ok := s.deps.Streamers[p]; ok {
			resp.Providers = append(resp.Providers, p.String())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- helpers ---

// sseWriter serializes canonical events as outbound SSE records.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// writeEvent writes one event and flushes. Returns false once the
// connection is gone.
func (sw *sseWriter) writeEvent(ev domain.StreamEvent) bool {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", payload); err != nil {
		return false
	}
	sw.flusher.Flush()
	return true
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
