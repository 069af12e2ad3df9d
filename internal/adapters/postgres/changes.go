package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"imagewatch/internal/domain"
)

const (
	changeChannel    = "imagewatch_changes"
	subscriberBuffer = 64
	listenAttempts   = 10
)

// changePayload is the JSON sent by imagewatch_notify_change().
type changePayload struct {
	ID      string           `json:"id"`
	Entity  domain.Entity    `json:"entity"`
	Kind    domain.EventKind `json:"kind"`
	OwnerID string           `json:"owner_id"`
	Before  json.RawMessage  `json:"before"`
	After   json.RawMessage  `json:"after"`
}

type subscriber struct {
	ownerID string
	entity  domain.Entity
	ch      chan domain.ChangeEvent
	done    chan struct{}
}

// hub holds one LISTEN connection and fans notifications out to subscribers.
type hub struct {
	pool   *pgxpool.Pool
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func startHub(pool *pgxpool.Pool) *hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &hub{pool: pool, cancel: cancel, subs: make(map[*subscriber]struct{})}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.run(ctx)
	}()
	return h
}

func (h *hub) stop() {
	h.cancel()
	h.wg.Wait()
}

// Subscribe implements ports.ChangeStream. All subscriptions share a single
// listening connection, started on first use.
func (db *DB) Subscribe(ctx context.Context, ownerID string, entity domain.Entity) (<-chan domain.ChangeEvent, error) {
	db.hubOnce.Do(func() { db.hub = startHub(db.Pool) })
	h := db.hub

	sub := &subscriber{
		ownerID: ownerID,
		entity:  entity,
		ch:      make(chan domain.ChangeEvent, subscriberBuffer),
		done:    make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		close(sub.done)
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		close(sub.ch)
	}()
	return sub.ch, nil
}

func (h *hub) run(ctx context.Context) {
	for ctx.Err() == nil {
		err := retry.Do(
			func() error { return h.listen(ctx) },
			retry.Context(ctx),
			retry.Attempts(listenAttempts),
			retry.Delay(500*time.Millisecond),
			retry.MaxDelay(30*time.Second),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool { return !errors.Is(err, context.Canceled) }),
			retry.OnRetry(func(n uint, err error) {
				log.Warn().Err(err).Uint("attempt", n+1).Msg("Change stream connection lost, reconnecting")
			}),
		)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Change stream unavailable")
		}
	}
}

// listen blocks on a dedicated connection until ctx is done or the
// connection fails.
func (h *hub) listen(ctx context.Context) error {
	pooled, err := h.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	// a connection that was LISTENing must not go back to the pool
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		return err
	}
	log.Debug().Str("channel", changeChannel).Msg("Listening for changes")
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		ev, err := decodeChange([]byte(n.Payload))
		if err != nil {
			log.Warn().Err(err).Msg("Dropping malformed change notification")
			continue
		}
		h.publish(ev)
	}
}

func (h *hub) publish(ev domain.ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.ownerID != ev.OwnerID || sub.entity != ev.Entity {
			continue
		}
		select {
		case sub.ch <- ev:
		case <-sub.done:
		}
	}
}

func decodeChange(payload []byte) (domain.ChangeEvent, error) {
	var p changePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.ChangeEvent{}, err
	}
	ev := domain.ChangeEvent{
		ID:         p.ID,
		Entity:     p.Entity,
		Kind:       p.Kind,
		OwnerID:    p.OwnerID,
		ReceivedAt: time.Now(),
	}
	switch p.Entity {
	case domain.EntityImages:
		before, err := decodeRecord[imageRecord](p.Before)
		if err != nil {
			return ev, err
		}
		after, err := decodeRecord[imageRecord](p.After)
		if err != nil {
			return ev, err
		}
		if before != nil {
			ev.ImageBefore = before.toDomain()
		}
		if after != nil {
			ev.ImageAfter = after.toDomain()
		}
	case domain.EntityScanHistory:
		before, err := decodeRecord[historyRecord](p.Before)
		if err != nil {
			return ev, err
		}
		after, err := decodeRecord[historyRecord](p.After)
		if err != nil {
			return ev, err
		}
		if before != nil {
			ev.HistoryBefore = before.toDomain()
		}
		if after != nil {
			ev.HistoryAfter = after.toDomain()
		}
	default:
		return ev, errors.New("unknown entity " + string(p.Entity))
	}
	return ev, nil
}

func decodeRecord[T any](raw json.RawMessage) (*T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
