package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/fluxgo/core/audit"
)

// NewAuditHandler returns an HTTP handler exposing the audit trail via
// GET /audit. Filters: start, end (RFC 3339), kind, strategy, inverter, limit.
func NewAuditHandler(store audit.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		values := r.URL.Query()
		q := audit.Query{
			Kind:     audit.Kind(values.Get("kind")),
			Strategy: values.Get("strategy"),
			Inverter: values.Get("inverter"),
		}
		for key, dst := range map[string]*time.Time{"start": &q.Start, "end": &q.End} {
			if s := values.Get(key); s != "" {
				t, err := time.Parse(time.RFC3339, s)
				if err != nil {
					http.Error(w, "invalid "+key+": "+err.Error(), http.StatusBadRequest)
					return
				}
				*dst = t
			}
		}
		if s := values.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			q.Limit = n
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []audit.Record{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
