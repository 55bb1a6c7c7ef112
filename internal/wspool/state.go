package wspool

import (
	"fmt"
	"sync"
	"time"
)

// ConnState is a connection's lifecycle state.
type ConnState string

const (
	StateDisconnected  ConnState = "DISCONNECTED"
	StateConnecting    ConnState = "CONNECTING"
	StateConnected     ConnState = "CONNECTED"
	StateDisconnecting ConnState = "DISCONNECTING"
	StateReconnecting  ConnState = "RECONNECTING"
	StateError         ConnState = "ERROR"
)

// validTransitions lists the allowed state machine edges. Anything not listed
// forces ERROR rather than silently proceeding from a corrupt state.
var validTransitions = map[ConnState][]ConnState{
	StateDisconnected:  {StateConnecting, StateReconnecting},
	StateConnecting:    {StateConnected, StateError, StateDisconnected},
	StateConnected:     {StateDisconnecting, StateError},
	StateDisconnecting: {StateDisconnected, StateError},
	StateReconnecting:  {StateConnecting, StateError, StateDisconnected},
	StateError:         {StateReconnecting, StateDisconnected},
}

// connMeta tracks per-connection health counters.
type connMeta struct {
	mu              sync.Mutex
	state           ConnState
	lastPing        time.Time
	lastMessage     time.Time
	bytesReceived   int64
	bytesSent       int64
	reconnectCount  int
	attemptCount    int
	lastError       string
}

func newConnMeta() *connMeta {
	return &connMeta{state: StateDisconnected}
}

// transition moves the state machine, forcing ERROR on an invalid edge.
func (m *connMeta) transition(to ConnState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, allowed := range validTransitions[m.state] {
		if allowed == to {
			m.state = to
			return nil
		}
	}
	err := fmt.Errorf("invalid transition %s -> %s", m.state, to)
	m.state = StateError
	m.lastError = err.Error()
	return err
}

func (m *connMeta) getState() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *connMeta) touchMessage(bytes int) {
	m.mu.Lock()
	m.lastMessage = time.Now()
	m.bytesReceived += int64(bytes)
	m.mu.Unlock()
}

func (m *connMeta) touchPing() {
	m.mu.Lock()
	m.lastPing = time.Now()
	m.mu.Unlock()
}

func (m *connMeta) recordError(err error) {
	m.mu.Lock()
	m.lastError = err.Error()
	m.mu.Unlock()
}

// isHealthy reports liveness: connected with a recent ping and message.
func (m *connMeta) isHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected &&
		time.Since(m.lastPing) < 60*time.Second &&
		time.Since(m.lastMessage) < 120*time.Second
}

// Stats is a point-in-time snapshot of one connection's counters.
type Stats struct {
	State          ConnState
	LastPing       time.Time
	LastMessage    time.Time
	BytesReceived  int64
	BytesSent      int64
	ReconnectCount int
	AttemptCount   int
	LastError      string
	Healthy        bool
}

func (m *connMeta) snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		State:          m.state,
		LastPing:       m.lastPing,
		LastMessage:    m.lastMessage,
		BytesReceived:  m.bytesReceived,
		BytesSent:      m.bytesSent,
		ReconnectCount: m.reconnectCount,
		AttemptCount:   m.attemptCount,
		LastError:      m.lastError,
		Healthy: m.state == StateConnected &&
			time.Since(m.lastPing) < 60*time.Second &&
			time.Since(m.lastMessage) < 120*time.Second,
	}
}
