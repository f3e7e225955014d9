package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// StreamManager tracks the open state sockets of each device, one per tab.
type StreamManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewStreamManager creates a new stream manager.
func NewStreamManager() *StreamManager {
	return &StreamManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Count returns how many tabs of the device are connected.
func (m *StreamManager) Count(deviceID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[deviceID])
}

// Register adds a connection for a device/tab, replacing any older one.
func (m *StreamManager) Register(deviceID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[deviceID]; !exists {
		m.active[deviceID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[deviceID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[deviceID][sessionID] = conn
	slog.Debug("State stream registered", "device_id", deviceID, "session_id", sessionID)
}

// Unregister removes a connection for a device/tab if it is still current.
func (m *StreamManager) Unregister(deviceID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[deviceID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, deviceID)
			}
			slog.Debug("State stream unregistered", "device_id", deviceID, "session_id", sessionID)
		}
	}
}

// CloseDevice terminates every open stream of a device.
func (m *StreamManager) CloseDevice(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[deviceID]
	if !ok {
		return
	}

	for sid, conn := range sessions {
		_ = conn.Close(websocket.StatusGoingAway, "device idle")
		slog.Info("State stream closed", "device_id", deviceID, "session_id", sid)
	}
	delete(m.active, deviceID)
}
