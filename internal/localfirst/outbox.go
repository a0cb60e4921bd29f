package localfirst

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one serialized outbox task as kept by a Store.
type Entry struct {
	ID        string
	Payload   []byte
	CreatedAt time.Time
}

// Store keeps outbox entries durably in insertion order.
type Store interface {
	Append(ctx context.Context, userID int64, kind string, entry Entry) error
	List(ctx context.Context, userID int64, kind string) ([]Entry, error)
	Remove(ctx context.Context, id string) error
}

type Item[T any] struct {
	ID        string
	Value     T
	CreatedAt time.Time
}

type SendFunc[T any] func(ctx context.Context, item Item[T]) error

type DrainResult struct {
	Attempted int `json:"attempted"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
}

// Outbox is a durable FIFO of tasks of one kind for one user. Entries leave
// the outbox only after a successful send.
type Outbox[T any] struct {
	store  Store
	userID int64
	kind   string

	drainMu sync.Mutex
	wake    chan struct{}
	now     func() time.Time
}

func NewOutbox[T any](store Store, userID int64, kind string) *Outbox[T] {
	return &Outbox[T]{
		store:  store,
		userID: userID,
		kind:   kind,
		wake:   make(chan struct{}, 1),
		now:    time.Now,
	}
}

func (o *Outbox[T]) Enqueue(ctx context.Context, value T) (Item[T], error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return Item[T]{}, fmt.Errorf("encode %s task: %w", o.kind, err)
	}

	item := Item[T]{
		ID:        uuid.NewString(),
		Value:     value,
		CreatedAt: o.now(),
	}
	entry := Entry{ID: item.ID, Payload: payload, CreatedAt: item.CreatedAt}
	if err := o.store.Append(ctx, o.userID, o.kind, entry); err != nil {
		return Item[T]{}, fmt.Errorf("append %s task: %w", o.kind, err)
	}
	return item, nil
}

// Pending returns queued items oldest first. Entries that no longer decode are
// dropped from the store.
func (o *Outbox[T]) Pending(ctx context.Context) ([]Item[T], error) {
	entries, err := o.store.List(ctx, o.userID, o.kind)
	if err != nil {
		return nil, err
	}

	items := make([]Item[T], 0, len(entries))
	for _, entry := range entries {
		var value T
		if err := json.Unmarshal(entry.Payload, &value); err != nil {
			log.Printf("[OUTBOX] Dropping undecodable %s entry %s: %v", o.kind, entry.ID, err)
			if err := o.store.Remove(ctx, entry.ID); err != nil {
				log.Printf("[OUTBOX] Failed to drop entry %s: %v", entry.ID, err)
			}
			continue
		}
		items = append(items, Item[T]{ID: entry.ID, Value: value, CreatedAt: entry.CreatedAt})
	}
	return items, nil
}

func (o *Outbox[T]) Len(ctx context.Context) (int, error) {
	entries, err := o.store.List(ctx, o.userID, o.kind)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Drain attempts every pending item in FIFO order. A successful send removes
// the item, a failed one stays queued for the next drain. Drains never overlap.
func (o *Outbox[T]) Drain(ctx context.Context, send SendFunc[T]) (DrainResult, error) {
	o.drainMu.Lock()
	defer o.drainMu.Unlock()

	var result DrainResult
	items, err := o.Pending(ctx)
	if err != nil {
		return result, err
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Attempted++
		if err := send(ctx, item); err != nil {
			result.Failed++
			log.Printf("[OUTBOX] %s task %s failed, keeping it queued: %v", o.kind, item.ID, err)
			continue
		}
		if err := o.store.Remove(ctx, item.ID); err != nil {
			result.Failed++
			log.Printf("[OUTBOX] %s task %s sent but not removed: %v", o.kind, item.ID, err)
			continue
		}
		result.Synced++
	}
	return result, nil
}

// Notify wakes the Run loop without blocking.
func (o *Outbox[T]) Notify() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Run drains the outbox each time it is notified and ready reports true.
// drained, when set, runs after each drain once the drain lock is released.
// It returns when ctx is cancelled.
func (o *Outbox[T]) Run(ctx context.Context, ready func() bool, send SendFunc[T], drained func(DrainResult)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
			if ready != nil && !ready() {
				continue
			}
			result, err := o.Drain(ctx, send)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[OUTBOX] %s drain failed: %v", o.kind, err)
				continue
			}
			if result.Attempted > 0 {
				log.Printf("[OUTBOX] %s drain: synced %d, failed %d", o.kind, result.Synced, result.Failed)
			}
			if drained != nil {
				drained(result)
			}
		}
	}
}
