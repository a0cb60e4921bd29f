// Package events is the in-process bus observers use to follow progress and
// badge awards.
package events

import (
	"log"
	"sync"

	"github.com/ad/go-techlabs-agent/internal/models"
)

type Topic string

const (
	TopicProgressLoaded  Topic = "progress-loaded"
	TopicProgressUpdated Topic = "progress-updated"
	TopicBadgeEarned     Topic = "badgeEarned"
)

type ProgressLoaded struct {
	UserID  int64                   `json:"user_id"`
	Records []models.ProgressRecord `json:"records"`
}

type ProgressUpdated struct {
	UserID   int64                 `json:"user_id"`
	RoomName models.Room           `json:"room_name"`
	Progress models.ProgressRecord `json:"progress"`
}

type BadgeEarned struct {
	UserID    int64                  `json:"user_id"`
	BadgeKey  models.BadgeKey        `json:"badge_key"`
	BadgeInfo models.BadgeDefinition `json:"badge_info"`
	Context   map[string]any         `json:"additional_data,omitempty"`
}

type Handler func(payload any)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus delivers every published payload synchronously to the topic's
// subscribers in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic][]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]subscription)}
}

// Subscribe registers handler for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[topic]
			for i, s := range subs {
				if s.id == id {
					b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *Bus) Publish(topic Topic, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(topic, s, payload)
	}
}

func (b *Bus) deliver(topic Topic, s subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[EVENTS] Handler %d for %s panicked: %v", s.id, topic, r)
		}
	}()
	s.handler(payload)
}
