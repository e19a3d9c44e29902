package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/antibyte/crisisroom/pkg/configuration"
)

// sessionLimits bounds the messages and bytes one connection may send per
// minute.
type sessionLimits struct {
	mu            sync.Mutex
	maxMessages   int
	maxBytes      int64
	windowStart   time.Time
	messages      int
	bytes         int64
	totalMessages int64
	lastActivity  time.Time
}

func newSessionLimits() *sessionLimits {
	now := time.Now()
	return &sessionLimits{
		maxMessages:  configuration.GetInt("Network", "max_messages_per_minute", 300),
		maxBytes:     int64(configuration.GetInt("Network", "max_bandwidth_kb_per_minute", 1024)) * 1024,
		windowStart:  now,
		lastActivity: now,
	}
}

// Check counts one incoming message of size bytes.
func (l *sessionLimits) Check(size int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.windowStart) >= time.Minute {
		l.windowStart = now
		l.messages = 0
		l.bytes = 0
	}
	l.messages++
	l.bytes += int64(size)
	l.totalMessages++
	l.lastActivity = now

	if l.messages > l.maxMessages {
		return fmt.Errorf("message rate limit exceeded: %d > %d per minute", l.messages, l.maxMessages)
	}
	if l.bytes > l.maxBytes {
		return fmt.Errorf("bandwidth limit exceeded: %d > %d bytes per minute", l.bytes, l.maxBytes)
	}
	return nil
}

// Idle returns how long the session has been silent.
func (l *sessionLimits) Idle() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Since(l.lastActivity)
}

func (l *sessionLimits) Total() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalMessages
}
