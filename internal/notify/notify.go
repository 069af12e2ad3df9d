// Package notify holds the user-facing notifications produced by scan
// operations and change events.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Level string

const (
	LevelInfo     Level = "info"
	LevelSuccess  Level = "success"
	LevelError    Level = "error"
	LevelProgress Level = "progress"
)

type Notification struct {
	ID        string    `json:"id"`
	Key       string    `json:"key,omitempty"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Sticky    bool      `json:"sticky,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier receives notifications. A notification with a non-empty Key
// replaces any earlier one carrying the same key.
type Notifier interface {
	Notify(n Notification)
}

func Success(msg string) Notification { return Notification{Level: LevelSuccess, Message: msg} }
func Error(msg string) Notification   { return Notification{Level: LevelError, Message: msg} }
func Info(msg string) Notification    { return Notification{Level: LevelInfo, Message: msg} }

// Keyed sets the replacement key on n.
func (n Notification) Keyed(key string) Notification {
	n.Key = key
	return n
}

// Progress is a sticky in-progress indicator; it stays until replaced by key.
func Progress(key, msg string) Notification {
	return Notification{Key: key, Level: LevelProgress, Message: msg, Sticky: true}
}

const defaultCapacity = 100

// Center is an in-memory Notifier keeping the most recent notifications.
type Center struct {
	mu    sync.Mutex
	items []Notification
	max   int
	now   func() time.Time
}

func NewCenter(capacity int) *Center {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Center{max: capacity, now: time.Now}
}

func (c *Center) Notify(n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = c.now()
	log.Debug().Str("key", n.Key).Str("level", string(n.Level)).Msg(n.Message)

	c.mu.Lock()
	defer c.mu.Unlock()
	if n.Key != "" {
		for i, existing := range c.items {
			if existing.Key == n.Key {
				c.items = append(c.items[:i], c.items[i+1:]...)
				break
			}
		}
	}
	c.items = append(c.items, n)
	if len(c.items) > c.max {
		c.items = c.items[len(c.items)-c.max:]
	}
}

// List returns the current notifications, oldest first.
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.items))
	copy(out, c.items)
	return out
}

// Active returns the notification currently held under key.
func (c *Center) Active(key string) (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.items {
		if n.Key == key {
			return n, true
		}
	}
	return Notification{}, false
}

// Drain returns and clears all notifications.
func (c *Center) Drain() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.items
	c.items = nil
	return out
}
