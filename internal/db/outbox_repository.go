package db

import (
	"context"
	"database/sql"

	"github.com/ad/go-techlabs-agent/internal/localfirst"
)

const (
	OutboxKindProgress   = "progress"
	OutboxKindBadgeAward = "badge_award"
)

// OutboxRepository is the durable store behind every localfirst.Outbox.
type OutboxRepository struct {
	queue *DBQueue
}

var _ localfirst.Store = (*OutboxRepository)(nil)

func NewOutboxRepository(queue *DBQueue) *OutboxRepository {
	return &OutboxRepository{queue: queue}
}

func (r *OutboxRepository) Append(ctx context.Context, userID int64, kind string, entry localfirst.Entry) error {
	_, err := r.queue.Execute(ctx, func(db *sql.DB) (any, error) {
		_, err := db.Exec(`
			INSERT INTO outbox (id, user_id, kind, payload, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, entry.ID, userID, kind, string(entry.Payload), toTS(entry.CreatedAt))
		return nil, err
	})
	return err
}

func (r *OutboxRepository) List(ctx context.Context, userID int64, kind string) ([]localfirst.Entry, error) {
	result, err := r.queue.Execute(ctx, func(db *sql.DB) (any, error) {
		rows, err := db.Query(`
			SELECT id, payload, created_at FROM outbox
			WHERE user_id = ? AND kind = ?
			ORDER BY seq
		`, userID, kind)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var entries []localfirst.Entry
		for rows.Next() {
			var entry localfirst.Entry
			var payload, createdAt string
			if err := rows.Scan(&entry.ID, &payload, &createdAt); err != nil {
				return nil, err
			}
			entry.Payload = []byte(payload)
			entry.CreatedAt = fromTS(createdAt)
			entries = append(entries, entry)
		}
		return entries, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]localfirst.Entry), nil
}

func (r *OutboxRepository) Remove(ctx context.Context, id string) error {
	_, err := r.queue.Execute(ctx, func(db *sql.DB) (any, error) {
		_, err := db.Exec(`DELETE FROM outbox WHERE id = ?`, id)
		return nil, err
	})
	return err
}

func (r *OutboxRepository) CountByUser(ctx context.Context, userID int64) (map[string]int, error) {
	result, err := r.queue.Execute(ctx, func(db *sql.DB) (any, error) {
		rows, err := db.Query(`
			SELECT kind, COUNT(*) FROM outbox WHERE user_id = ? GROUP BY kind
		`, userID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		counts := make(map[string]int)
		for rows.Next() {
			var kind string
			var count int
			if err := rows.Scan(&kind, &count); err != nil {
				return nil, err
			}
			counts[kind] = count
		}
		return counts, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]int), nil
}
