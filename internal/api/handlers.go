package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/internal/fanout"
	"github.com/holmesproxy/alert-core/internal/store"
)

// GroupLister is the read surface the admin API needs from the Grouper.
type GroupLister interface {
	Get(groupID string) (*core.Group, bool)
	List() []*core.Group
}

// RuleLister is the read surface the admin API needs for rule
// inspection.
type RuleLister interface {
	Rules() []*core.Rule
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func listAlertsHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.Filter{}
		if status := r.URL.Query().Get("status"); status != "" {
			filter.Status.Set = true
			filter.Status.Value = core.AlertStatus(status)
		}
		writeJSON(w, http.StatusOK, s.List(filter))
	}
}

func getAlertHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fingerprint := mux.Vars(r)["fingerprint"]
		alert, ok := s.Get(fingerprint)
		if !ok {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		writeJSON(w, http.StatusOK, alert)
	}
}

func listGroupsHandler(g GroupLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, g.List())
	}
}

func getGroupHandler(g GroupLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		group, ok := g.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "group not found")
			return
		}
		writeJSON(w, http.StatusOK, group)
	}
}

func listRulesHandler(g RuleLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, g.Rules())
	}
}

func destinationFailuresHandler(f *fanout.Fanout) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		writeJSON(w, http.StatusOK, f.RecentFailures(name))
	}
}
