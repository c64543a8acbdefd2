package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mtr002/Job-Sync/internal/interfaces"
	"github.com/mtr002/Job-Sync/internal/logger"
	"github.com/mtr002/Job-Sync/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub tracks connected clients and which jobs each one follows.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu            sync.RWMutex
	clients       map[string]*Client
	subscriptions map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		done:          make(chan struct{}),
		clients:       make(map[string]*Client),
		subscriptions: make(map[string]map[*Client]struct{}),
	}
}

// Run processes registrations until Stop is called. Client pumps start
// once the client is registered.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.subscriptions = make(map[string]map[*Client]struct{})
			h.mu.Unlock()
			metrics.WebsocketClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[c.id]; ok {
				h.removeLocked(old)
			}
			h.clients[c.id] = c
			n := len(h.clients)
			h.mu.Unlock()
			go c.WritePump()
			go c.ReadPump()
			metrics.WebsocketClients.Set(float64(n))
			logger.WithConnectionID(c.id).Info().Msg("WebSocket client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			removed := h.clients[c.id] == c
			if removed {
				h.removeLocked(c)
			}
			n := len(h.clients)
			h.mu.Unlock()
			if removed {
				metrics.WebsocketClients.Set(float64(n))
				logger.WithConnectionID(c.id).Info().Msg("WebSocket client disconnected")
			}
		}
	}
}

func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) removeLocked(c *Client) {
	delete(h.clients, c.id)
	for jobID, subs := range h.subscriptions {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subscriptions, jobID)
		}
	}
	close(c.send)
}

func (h *Hub) subscribe(c *Client, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.id] != c {
		return
	}
	subs, ok := h.subscriptions[jobID]
	if !ok {
		subs = make(map[*Client]struct{})
		h.subscriptions[jobID] = subs
	}
	subs[c] = struct{}{}
}

// SendJobUpdate pushes the job's current state to the clients subscribed
// to it.
func (h *Hub) SendJobUpdate(job *interfaces.Job) {
	progress := float64(job.Progress)
	data := interfaces.UpdateData{
		Status:   job.Status,
		Progress: &progress,
	}
	if job.Message != "" {
		msg := job.Message
		data.Message = &msg
	}
	if job.Result != nil {
		data.Result = job.Result
	}
	if job.Error != "" {
		errMsg := job.Error
		data.Error = &errMsg
	}
	if job.CompletedAt != nil {
		completed := interfaces.UnixSeconds(*job.CompletedAt)
		data.CompletedAt = &completed
	}

	message, err := json.Marshal(serverMessage{Type: "job_update", JobID: job.ID, Data: &data})
	if err != nil {
		logger.WithJobID(job.ID).Error().Err(err).Msg("Failed to marshal job update")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subscriptions[job.ID] {
		c.trySend(message)
	}
}

// Stats returns the connected client count and the number of jobs with at
// least one subscriber.
func (h *Hub) Stats() (connections, subscriptions int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients), len(h.subscriptions)
}

type serverMessage struct {
	Type  string                 `json:"type"`
	JobID string                 `json:"job_id,omitempty"`
	Data  *interfaces.UpdateData `json:"data,omitempty"`
}
