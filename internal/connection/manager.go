package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"github.com/mtr002/Job-Sync/internal/interfaces"
	"github.com/mtr002/Job-Sync/internal/logger"
	"github.com/mtr002/Job-Sync/internal/metrics"
)

// State of the push connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrDisconnected is returned by a Connect that was overtaken by Disconnect.
var ErrDisconnected = errors.New("connection manager disconnected")

const (
	DefaultReconnectDelay    = 3 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
)

type Config struct {
	// URL is the push endpoint root; the connection id is appended as
	// {URL}/jobs/ws/{connection_id}.
	URL               string
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
}

type Option func(*Manager)

func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the single push connection, the subscription registry and
// the cache of the latest merged update per job. All of it is guarded by mu.
type Manager struct {
	cfg       Config
	dialer    Dialer
	reconnect backoff.BackOff
	now       func() time.Time

	mu             sync.Mutex
	state          State
	connID         string
	conn           Conn
	gen            uint64
	subscriptions  map[string]struct{}
	updates        map[string]interfaces.JobUpdate
	watchers       map[string]map[chan interfaces.JobUpdate]struct{}
	stateWatchers  map[chan State]struct{}
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	lastPong       time.Time
}

func NewManager(cfg Config, opts ...Option) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HeartbeatInterval < 0 {
		cfg.HeartbeatInterval = 0
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	m := &Manager{
		cfg:           cfg,
		dialer:        NewWebsocketDialer(),
		reconnect:     backoff.NewConstantBackOff(cfg.ReconnectDelay),
		now:           time.Now,
		subscriptions: make(map[string]struct{}),
		updates:       make(map[string]interfaces.JobUpdate),
		watchers:      make(map[string]map[chan interfaces.JobUpdate]struct{}),
		stateWatchers: make(map[chan State]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens the push connection. It is a no-op while a connection is
// open or being established. A failed dial schedules a reconnect and
// returns the dial error.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateOpen || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.stopReconnectLocked()
	m.gen++
	gen := m.gen
	m.connID = uuid.New().String()
	connID := m.connID
	url := m.cfg.URL + "/jobs/ws/" + connID
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	log := logger.WithConnectionID(connID)
	log.Debug().Str("url", url).Msg("Connecting push channel")

	conn, err := m.dialer.Dial(ctx, url)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return ErrDisconnected
	}
	if err != nil {
		m.setStateLocked(StateDisconnected)
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		log.Warn().Err(err).Msg("Push channel dial failed")
		return fmt.Errorf("failed to connect push channel: %w", err)
	}

	m.conn = conn
	m.setStateLocked(StateOpen)
	pending := make([]string, 0, len(m.subscriptions))
	for jobID := range m.subscriptions {
		pending = append(pending, jobID)
	}
	stop := make(chan struct{})
	m.heartbeatStop = stop
	m.mu.Unlock()

	log.Info().Int("subscriptions", len(pending)).Msg("Push channel open")

	sort.Strings(pending)
	for _, jobID := range pending {
		if err := conn.WriteMessage(subscribeMessage(jobID)); err != nil {
			log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to replay subscription")
		}
	}

	go m.readLoop(conn, gen)
	if m.cfg.HeartbeatInterval > 0 {
		go m.heartbeat(conn, stop)
	}
	return nil
}

// Disconnect closes the connection with a normal closure and cancels any
// pending reconnect. No reconnect follows.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopReconnectLocked()
	m.stopHeartbeatLocked()
	m.gen++
	gen := m.gen
	conn := m.conn
	m.conn = nil
	if conn == nil {
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		return
	}
	connID := m.connID
	m.setStateLocked(StateClosing)
	m.mu.Unlock()

	if err := conn.CloseNormal(ClientDisconnectReason); err != nil {
		logger.WithConnectionID(connID).Debug().Err(err).Msg("Close handshake failed")
	}

	m.mu.Lock()
	if m.gen == gen {
		m.setStateLocked(StateDisconnected)
	}
	m.mu.Unlock()
	logger.WithConnectionID(connID).Info().Msg("Push channel disconnected")
}

// Subscribe records interest in jobID and sends a subscribe frame when the
// connection is open. The interest survives reconnects.
func (m *Manager) Subscribe(jobID string) {
	if jobID == "" {
		return
	}
	m.mu.Lock()
	m.subscriptions[jobID] = struct{}{}
	var conn Conn
	if m.state == StateOpen {
		conn = m.conn
	}
	m.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.WriteMessage(subscribeMessage(jobID)); err != nil {
		logger.WithJobID(jobID).Warn().Err(err).Msg("Failed to send subscription")
	}
}

// Unsubscribe forgets jobID locally. Later pushes for it are dropped.
func (m *Manager) Unsubscribe(jobID string) {
	m.mu.Lock()
	delete(m.subscriptions, jobID)
	m.mu.Unlock()
}

func (m *Manager) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.subscriptions))
	for id := range m.subscriptions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connID
}

// LastPong is the receipt time of the most recent pong, zero if none.
func (m *Manager) LastPong() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPong
}

// Update returns the cached merged update for jobID.
func (m *Manager) Update(jobID string) (interfaces.JobUpdate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.updates[jobID]
	return u, ok
}

func (m *Manager) Updates() map[string]interfaces.JobUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]interfaces.JobUpdate, len(m.updates))
	for id, u := range m.updates {
		out[id] = u
	}
	return out
}

func (m *Manager) ClearUpdate(jobID string) {
	m.mu.Lock()
	delete(m.updates, jobID)
	m.mu.Unlock()
}

// Watch streams the latest merged update for jobID. The channel holds at
// most one value; a slow reader only ever sees the newest state. The
// returned func stops the watch and closes the channel.
func (m *Manager) Watch(jobID string) (<-chan interfaces.JobUpdate, func()) {
	ch := make(chan interfaces.JobUpdate, 1)

	m.mu.Lock()
	set, ok := m.watchers[jobID]
	if !ok {
		set = make(map[chan interfaces.JobUpdate]struct{})
		m.watchers[jobID] = set
	}
	set[ch] = struct{}{}
	if u, ok := m.updates[jobID]; ok {
		ch <- u
	}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if set, ok := m.watchers[jobID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(m.watchers, jobID)
				}
			}
			close(ch)
		})
	}
}

// WatchState streams connection state changes, starting with the current one.
func (m *Manager) WatchState() (<-chan State, func()) {
	ch := make(chan State, 1)

	m.mu.Lock()
	m.stateWatchers[ch] = struct{}{}
	ch <- m.state
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.stateWatchers, ch)
			close(ch)
		})
	}
}

func (m *Manager) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		m.handleMessage(data)
	}
}

func (m *Manager) handleClose(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return
	}
	log := logger.WithConnectionID(m.connID)

	m.stopHeartbeatLocked()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.setStateLocked(StateDisconnected)

	var ce *CloseError
	if errors.As(err, &ce) && ce.Code == 1000 && ce.Reason == ClientDisconnectReason {
		log.Info().Msg("Push channel closed by client")
		return
	}
	log.Warn().Err(err).Dur("retry_in", m.cfg.ReconnectDelay).Msg("Push channel lost")
	m.scheduleReconnectLocked()
}

func (m *Manager) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		m.protocolError(data, err)
		return
	}

	switch msg.Type {
	case MessageJobUpdate:
		if msg.JobID == "" {
			m.protocolError(data, errors.New("job_update without job_id"))
			return
		}
		var payload interfaces.UpdateData
		if len(msg.Data) > 0 && string(msg.Data) != "null" {
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				m.protocolError(data, err)
				return
			}
		}
		u := payload.Update(msg.JobID)
		u.ReceivedAt = m.now()
		m.applyUpdate(u)

	case MessageSubscriptionConfirmed:
		logger.WithJobID(msg.JobID).Debug().Msg("Subscription confirmed")

	case MessagePong:
		m.mu.Lock()
		m.lastPong = m.now()
		m.mu.Unlock()

	case MessageError:
		detail := msg.Detail
		if detail == "" {
			detail = msg.Message
		}
		logger.Logger.Warn().Str("detail", detail).Msg("Push channel reported an error")

	default:
		m.protocolError(data, fmt.Errorf("unknown message type %q", msg.Type))
		return
	}
	metrics.PushMessagesTotal.WithLabelValues(msg.Type).Inc()
}

func (m *Manager) applyUpdate(u interfaces.JobUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subscriptions[u.JobID]; !ok {
		metrics.DiscardedUpdatesTotal.WithLabelValues("unsubscribed").Inc()
		return
	}
	merged, applied := interfaces.MergeUpdate(m.updates[u.JobID], u)
	if !applied {
		metrics.DiscardedUpdatesTotal.WithLabelValues("terminal").Inc()
		logger.WithJobID(u.JobID).Debug().
			Str("recorded", string(merged.Status)).
			Str("incoming", string(u.Status)).
			Msg("Ignoring update after terminal status")
		return
	}
	m.updates[u.JobID] = merged
	for ch := range m.watchers[u.JobID] {
		offer(ch, merged)
	}
}

func (m *Manager) protocolError(data []byte, err error) {
	metrics.ProtocolErrorsTotal.Inc()
	if len(data) > 256 {
		data = data[:256]
	}
	logger.Logger.Warn().Err(err).Bytes("frame", data).Msg("Dropping malformed push message")
}

func (m *Manager) heartbeat(conn Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(pingMessage()); err != nil {
				logger.Logger.Debug().Err(err).Msg("Heartbeat ping failed")
			}
		}
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	metrics.ConnectionState.Set(float64(s))
	for ch := range m.stateWatchers {
		offer(ch, s)
	}
}

func (m *Manager) scheduleReconnectLocked() {
	if m.reconnectTimer != nil {
		return
	}
	delay := m.reconnect.NextBackOff()
	metrics.ReconnectsTotal.Inc()

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.reconnectTimer != t {
			m.mu.Unlock()
			return
		}
		m.reconnectTimer = nil
		m.mu.Unlock()

		if err := m.Connect(context.Background()); err != nil {
			logger.Logger.Debug().Err(err).Msg("Reconnect attempt failed")
		}
	})
	m.reconnectTimer = t
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

// offer replaces whatever is buffered in ch with v. Callers hold m.mu, so
// there is a single sender per channel and the send cannot block.
func offer[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
