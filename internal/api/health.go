package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mtr002/Job-Sync/internal/interfaces"
	"github.com/mtr002/Job-Sync/internal/websocket"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}

type ReadinessResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Store     string    `json:"store"`
}

const serviceName = "job-sync-backend"

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   serviceName,
	})
}

func HandleReadiness(store interfaces.JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if store == nil {
			writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{
				Status:    "not ready",
				Timestamp: time.Now(),
				Service:   serviceName,
				Store:     "unavailable",
			})
			return
		}

		writeJSON(w, http.StatusOK, ReadinessResponse{
			Status:    "ready",
			Timestamp: time.Now(),
			Service:   serviceName,
			Store:     "memory",
		})
	}
}

func HandleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "alive",
		Timestamp: time.Now(),
		Service:   serviceName,
	})
}

// handleSystemHealth reports job and push channel counters.
func handleSystemHealth(w http.ResponseWriter, store interfaces.JobStore, hub *websocket.Hub) {
	counts := store.CountByStatus()
	connections, subscriptions := hub.Stats()

	writeJSON(w, http.StatusOK, interfaces.HealthPayload{
		Status:               "healthy",
		ActiveJobsCount:      counts[interfaces.StatusPending] + counts[interfaces.StatusProcessing],
		WebsocketConnections: connections,
		JobSubscriptions:     subscriptions,
		Timestamp:            interfaces.UnixSeconds(time.Now()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
