package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go-subband-ingest/internal/model"
	"go-subband-ingest/internal/store"
)

// Queue exposes the durable group queue over HTTP. All state lives in the
// injected store; handlers hold nothing of their own.
type Queue struct {
	store *store.Store
}

func NewQueue(st *store.Store) *Queue {
	return &Queue{store: st}
}

// GetHealth answers liveness/readiness probes: 200 while the queue store
// responds, 503 once it stops.
func (q *Queue) GetHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := q.store.CountByState(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok"})
}

// GetQueueStatus returns per-state group counts
// @Summary Queue status
// @Description Get the number of groups in each queue state
// @Tags queue
// @Produce json
// @Success 200 {object} map[string]interface{} "Per-state counts"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /queue [get]
func (q *Queue) GetQueueStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := q.store.CountByState()
	if err != nil {
		http.Error(w, "Failed to count queue states", http.StatusInternalServerError)
		return
	}

	states := map[string]interface{}{}
	for state, n := range counts {
		states[string(state)] = n
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"states":     states,
		"checked_at": time.Now().UTC(),
	})
}

// ListGroups lists groups, optionally filtered by state
// @Summary List groups
// @Description List queued groups, optionally filtered by ?state=
// @Tags groups
// @Produce json
// @Param state query string false "Filter by state (collecting, pending, in_progress, completed, failed)"
// @Success 200 {object} map[string]interface{} "Groups"
// @Failure 400 {object} map[string]interface{} "Unknown state"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /groups [get]
func (q *Queue) ListGroups(w http.ResponseWriter, r *http.Request) {
	var states []model.GroupState
	if s := r.URL.Query().Get("state"); s != "" {
		state := model.GroupState(s)
		if !validState(state) {
			http.Error(w, "Unknown state: "+s, http.StatusBadRequest)
			return
		}
		states = []model.GroupState{state}
	} else {
		states = model.AllStates()
	}

	groups := []*model.Group{}
	for _, state := range states {
		gs, err := q.store.ListByState(state)
		if err != nil {
			http.Error(w, "Failed to list groups", http.StatusInternalServerError)
			return
		}
		groups = append(groups, gs...)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"groups": groups,
		"count":  len(groups),
	})
}

// GetGroup retrieves one group by key
// @Summary Get group
// @Description Retrieve a single group with its members and attempt history
// @Tags groups
// @Produce json
// @Param key path string true "Group key"
// @Success 200 {object} model.Group "Group details"
// @Failure 404 {object} map[string]interface{} "Group not found"
// @Router /groups/{key} [get]
func (q *Queue) GetGroup(w http.ResponseWriter, r *http.Request) {
	key, ok := groupKeyFromPath(r.URL.Path, "")
	if !ok {
		http.Error(w, "Group key is required", http.StatusBadRequest)
		return
	}

	g, found, err := q.store.Get(key)
	if err != nil {
		http.Error(w, "Failed to fetch group", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Group not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(g)
}

// RequeueGroup puts a failed group back in line
// @Summary Requeue group
// @Description Reset a failed group to pending with a fresh attempt budget
// @Tags groups
// @Produce json
// @Param key path string true "Group key"
// @Success 200 {object} map[string]interface{} "Requeue accepted"
// @Failure 404 {object} map[string]interface{} "Group not found"
// @Failure 409 {object} map[string]interface{} "Group is not failed"
// @Router /groups/{key}/requeue [post]
func (q *Queue) RequeueGroup(w http.ResponseWriter, r *http.Request) {
	key, ok := groupKeyFromPath(r.URL.Path, "/requeue")
	if !ok {
		http.Error(w, "Group key is required", http.StatusBadRequest)
		return
	}

	_, found, err := q.store.Get(key)
	if err != nil {
		http.Error(w, "Failed to fetch group", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Group not found", http.StatusNotFound)
		return
	}

	if err := q.store.Requeue(key, time.Now()); err != nil {
		http.Error(w, "Group is not in a requeueable state", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Group requeued",
		"group":   key,
		"status":  string(model.StatePending),
	})
}

// groupKeyFromPath extracts the group key between the fixed prefix and an
// optional action suffix.
func groupKeyFromPath(path, suffix string) (string, bool) {
	prefix := "/api/v1/groups/"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	key := path[len(prefix) : len(path)-len(suffix)]
	return key, key != ""
}

func validState(s model.GroupState) bool {
	for _, known := range model.AllStates() {
		if s == known {
			return true
		}
	}
	return false
}
