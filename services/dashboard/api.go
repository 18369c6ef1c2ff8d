package dashboard

import (
	"context"
	"encoding/json"
	"net/http"

	"solarrelay-go/bus"
	"solarrelay-go/errcode"
	"solarrelay-go/services/config"
	"solarrelay-go/services/solar"
	"solarrelay-go/types"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, c errcode.Code) {
	writeJSON(w, statusOf(c), errorBody{Error: string(c)})
}

func statusOf(c errcode.Code) int {
	switch c {
	case errcode.InvalidParams, errcode.InvalidPayload:
		return http.StatusBadRequest
	case errcode.Unauthorized:
		return http.StatusUnauthorized
	case errcode.Busy:
		return http.StatusTooManyRequests
	case errcode.NotReady:
		return http.StatusServiceUnavailable
	case errcode.Timeout:
		return http.StatusGatewayTimeout
	case errcode.Unsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_, ready := s.snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "state": ready})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.snapshot()
	if !ok {
		writeErr(w, errcode.NotReady)
		return
	}
	snap.Log = s.logEntries()
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLog(w http.ResponseWriter, _ *http.Request) {
	entries := s.logEntries()
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"lines":   renderLog(entries),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	c, ok := s.config()
	if !ok {
		writeErr(w, errcode.NotReady)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var o types.RelayOverride
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		writeErr(w, errcode.InvalidPayload)
		return
	}
	s.command(w, r, solar.TopicOverride, o)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, solar.TopicResetStats, nil)
}

// handlePutConfig forwards a partial config; the config service merges,
// validates and persists it.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil || len(patch) == 0 {
		writeErr(w, errcode.InvalidPayload)
		return
	}
	s.command(w, r, config.TopicSet, patch)
}

// command issues a bus request and maps the types.Reply to HTTP.
func (s *Server) command(w http.ResponseWriter, r *http.Request, topic bus.Topic, payload any) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()
	m, err := s.conn.Request(ctx, topic, payload)
	if err != nil {
		s.log.Warn("bus request failed", "topic", topic.String(), "err", err)
		writeErr(w, errcode.Timeout)
		return
	}
	rep, err := types.Decode[types.Reply](m.Payload)
	if err != nil {
		writeErr(w, errcode.Error)
		return
	}
	if !rep.OK {
		writeErr(w, errcode.Code(rep.Error))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
