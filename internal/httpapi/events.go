package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const permAuditRead = "audit.log.read"

// handleAuthEvents streams authentication events over SSE to authorized
// monitoring clients. The connection lives until the client goes away.
func (a *API) handleAuthEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if a.events == nil {
		writeError(w, http.StatusNotFound, "event stream disabled")
		return
	}
	if err := a.requirePermission(r, permAuditRead); err != nil {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for evt := range a.events.Subscribe(r.Context()) {
		payload, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
		flusher.Flush()
	}
}
