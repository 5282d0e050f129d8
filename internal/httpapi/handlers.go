package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/calfeld/heron/internal/monitoring"
)

// writeReason writes a small plain-text reason string alongside status,
// matching spec §7's "HTTP error response with a reason string" for
// malformed Store requests.
func writeReason(w http.ResponseWriter, status int, reason string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(reason))
}

// handleConnect implements GET {comet_prefix}/connect.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	clientID := r.FormValue("client_id")
	if clientID == "" {
		writeReason(w, http.StatusNotImplemented, "missing client_id")
		return
	}
	s.push.Connect(clientID)
	w.WriteHeader(http.StatusOK)
}

// handleDisconnect implements GET {comet_prefix}/disconnect. It also
// tells Store immediately so the client's domain subscriptions are
// cleaned up without waiting for the next liveness sweep; watchdog-
// triggered disconnects still get cleaned up by that sweep (spec §4.4).
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	clientID := r.FormValue("client_id")
	if clientID != "" {
		s.push.Disconnect(clientID)
		s.store.Disconnected(clientID)
	}
	w.WriteHeader(http.StatusOK)
}

// handleReceive implements GET {comet_prefix}/receive. The response
// body is the raw JSON string queued for this client, or empty on
// timeout/wake/disconnect (spec §6).
func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	clientID := r.FormValue("client_id")
	if clientID == "" {
		writeReason(w, http.StatusNotImplemented, "missing client_id")
		return
	}

	payload, ok, err := s.push.Receive(clientID)
	if err != nil {
		writeReason(w, http.StatusNotImplemented, "unknown client")
		return
	}
	w.WriteHeader(http.StatusOK)
	if ok {
		_, _ = w.Write([]byte(payload))
	}
}

// handleFlush implements GET {comet_prefix}/flush.
func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	clientID := r.FormValue("client_id")
	if clientID == "" {
		writeReason(w, http.StatusNotImplemented, "missing client_id")
		return
	}
	if err := s.push.Flush(clientID); err != nil {
		writeReason(w, http.StatusNotImplemented, "unknown client")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleSubscribe implements POST {store_prefix}/subscribe.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	clientID := r.FormValue("client_id")
	domain := r.FormValue("domain")
	if clientID == "" || domain == "" {
		writeReason(w, http.StatusBadRequest, "missing client_id or domain")
		return
	}
	if err := s.store.Subscribe(clientID, domain); err != nil {
		writeReason(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleMessages implements POST {store_prefix}/messages. messages is
// a JSON array of protocol.Message encoded as a single form value.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	clientID := r.FormValue("client_id")
	messages := r.FormValue("messages")
	if clientID == "" || messages == "" {
		writeReason(w, http.StatusBadRequest, "missing client_id or messages")
		return
	}
	if err := s.store.Messages(clientID, messages); err != nil {
		writeReason(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleHealth reports process CPU/memory and connected-client count;
// grounded on the teacher's handleHealth, trimmed to this system's own
// dependencies (no Kafka/goroutine admission-control checks, since
// those belong to features this rewrite drops, see DESIGN.md).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := monitoring.ReadProcessStats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":           "healthy",
		"clients_connected": s.push.ClientCount(),
		"cpu_percent":      stats.CPUPercent,
		"memory_mb":        stats.MemoryMB,
		"time":             time.Now().UTC().Format(time.RFC3339),
	})
}
