package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"imagewatch/internal/domain"
)

const subscriberBuffer = 64

type subscriber struct {
	ownerID string
	entity  domain.Entity
	ch      chan domain.ChangeEvent
	done    chan struct{}
}

// Subscribe implements ports.ChangeStream.
func (s *Store) Subscribe(ctx context.Context, ownerID string, entity domain.Entity) (<-chan domain.ChangeEvent, error) {
	sub := &subscriber{
		ownerID: ownerID,
		entity:  entity,
		ch:      make(chan domain.ChangeEvent, subscriberBuffer),
		done:    make(chan struct{}),
	}
	s.subsMu.Lock()
	s.subs[sub] = struct{}{}
	s.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		// unblock publishers before taking the write lock
		close(sub.done)
		s.subsMu.Lock()
		delete(s.subs, sub)
		s.subsMu.Unlock()
		close(sub.ch)
	}()
	return sub.ch, nil
}

func (s *Store) publish(ev domain.ChangeEvent) {
	ev.ID = uuid.NewString()
	ev.ReceivedAt = time.Now()
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for sub := range s.subs {
		if sub.ownerID != ev.OwnerID || sub.entity != ev.Entity {
			continue
		}
		select {
		case sub.ch <- ev:
		case <-sub.done:
		}
	}
}
