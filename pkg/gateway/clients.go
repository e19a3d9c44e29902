package gateway

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/antibyte/crisisroom/pkg/configuration"
	"github.com/antibyte/crisisroom/pkg/logger"
)

const requestsPerMinute = 200

var ErrTooManyClients = errors.New("too many connected clients")

type rateLimitInfo struct {
	requests  int
	lastReset time.Time
}

// ClientManager tracks connected clients by session ID and rate limits
// connection attempts per IP address.
type ClientManager struct {
	clients    map[string]*Client
	rateLimits map[string]*rateLimitInfo
	maxClients int
	mu         sync.RWMutex
}

func NewClientManager(maxClients int) *ClientManager {
	if maxClients <= 0 {
		maxClients = configuration.GetInt("Network", "max_clients", 100)
	}
	return &ClientManager{
		clients:    make(map[string]*Client),
		rateLimits: make(map[string]*rateLimitInfo),
		maxClients: maxClients,
	}
}

// AddClient registers c for sessionID. A client already connected with the
// same session is returned so the caller can close it.
func (cm *ClientManager) AddClient(sessionID string, c *Client) (*Client, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	old, exists := cm.clients[sessionID]
	if !exists && len(cm.clients) >= cm.maxClients {
		return nil, ErrTooManyClients
	}
	cm.clients[sessionID] = c
	logger.Info(logger.AreaSession, "client added for session %s (%d connected)", sessionID, len(cm.clients))
	return old, nil
}

// RemoveClient forgets sessionID if it still belongs to c.
func (cm *ClientManager) RemoveClient(sessionID string, c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if current, exists := cm.clients[sessionID]; exists && current == c {
		delete(cm.clients, sessionID)
		logger.Info(logger.AreaSession, "client removed for session %s", sessionID)
	}
}

func (cm *ClientManager) GetClient(sessionID string) (*Client, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, ok := cm.clients[sessionID]
	return c, ok
}

func (cm *ClientManager) GetClientCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// CheckRateLimit counts one request from ipAddress.
func (cm *ClientManager) CheckRateLimit(ipAddress string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	now := time.Now()
	info, exists := cm.rateLimits[ipAddress]
	if !exists {
		info = &rateLimitInfo{lastReset: now}
		cm.rateLimits[ipAddress] = info
	}
	if now.Sub(info.lastReset) > time.Minute {
		info.requests = 0
		info.lastReset = now
	}
	info.requests++
	if info.requests > requestsPerMinute {
		logger.SecurityWarn("rate limit exceeded for IP %s: %d requests in last minute", ipAddress, info.requests)
		return fmt.Errorf("rate limit exceeded: too many requests from %s", ipAddress)
	}
	return nil
}

// CleanupRateLimits drops entries idle for longer than maxAge.
func (cm *ClientManager) CleanupRateLimits(maxAge time.Duration) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	now := time.Now()
	for ip, info := range cm.rateLimits {
		if now.Sub(info.lastReset) > maxAge {
			delete(cm.rateLimits, ip)
		}
	}
}

// CloseIdle disconnects clients that sent nothing for longer than maxIdle.
func (cm *ClientManager) CloseIdle(maxIdle time.Duration) int {
	cm.mu.RLock()
	var idle []*Client
	for _, c := range cm.clients {
		if c.limits != nil && c.limits.Idle() > maxIdle {
			idle = append(idle, c)
		}
	}
	cm.mu.RUnlock()
	for _, c := range idle {
		logger.Info(logger.AreaSession, "closing idle session %s", c.sessionID)
		c.Close()
	}
	return len(idle)
}

// CloseAll disconnects every client.
func (cm *ClientManager) CloseAll() {
	cm.mu.RLock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, c := range cm.clients {
		clients = append(clients, c)
	}
	cm.mu.RUnlock()
	for _, c := range clients {
		c.Close()
	}
}
