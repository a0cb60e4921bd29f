package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/ad/go-techlabs-agent/internal/localfirst"
	"github.com/ad/go-techlabs-agent/internal/models"
)

// BadgeRepository is the local durable copy of a user's earned badges.
// Rows are only ever inserted; a badge once earned is never rewritten.
type BadgeRepository struct {
	queue *DBQueue
}

func NewBadgeRepository(queue *DBQueue) *BadgeRepository {
	return &BadgeRepository{queue: queue}
}

func (r *BadgeRepository) AssignToUser(ctx context.Context, userID int64, badges ...models.EarnedBadge) error {
	if len(badges) == 0 {
		return nil
	}
	_, err := r.queue.Execute(ctx, func(db *sql.DB) (any, error) {
		tx, err := db.Begin()
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT OR IGNORE INTO earned_badges (user_id, badge_name, earned_at, definition, metadata)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return nil, err
		}
		defer stmt.Close()

		for _, badge := range badges {
			definition, err := json.Marshal(badge.BadgeDefinition)
			if err != nil {
				return nil, err
			}
			metadata, err := json.Marshal(badge.Context)
			if err != nil {
				return nil, err
			}
			if _, err := stmt.Exec(userID, badge.BadgeName, toTS(badge.EarnedAt), string(definition), string(metadata)); err != nil {
				return nil, err
			}
		}
		return nil, tx.Commit()
	})
	return err
}

func (r *BadgeRepository) GetUserBadges(ctx context.Context, userID int64) ([]models.EarnedBadge, error) {
	result, err := r.queue.Execute(ctx, func(db *sql.DB) (any, error) {
		rows, err := db.Query(`
			SELECT badge_name, earned_at, definition, metadata
			FROM earned_badges WHERE user_id = ? ORDER BY earned_at
		`, userID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var badges []models.EarnedBadge
		for rows.Next() {
			var badge models.EarnedBadge
			var earnedAt, definition, metadata string
			if err := rows.Scan(&badge.BadgeName, &earnedAt, &definition, &metadata); err != nil {
				return nil, err
			}
			badge.EarnedAt = fromTS(earnedAt)
			if err := json.Unmarshal([]byte(definition), &badge.BadgeDefinition); err != nil {
				return nil, err
			}
			if err := json.Unmarshal([]byte(metadata), &badge.Context); err != nil {
				return nil, err
			}
			badges = append(badges, badge)
		}
		return badges, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.EarnedBadge), nil
}

// ForUser binds the repository to one user as a cache persister.
func (r *BadgeRepository) ForUser(userID int64) localfirst.Persister[models.BadgeKey, models.EarnedBadge] {
	return &badgePersister{repo: r, userID: userID}
}

type badgePersister struct {
	repo   *BadgeRepository
	userID int64
}

func (p *badgePersister) Load(ctx context.Context) (map[models.BadgeKey]models.EarnedBadge, error) {
	badges, err := p.repo.GetUserBadges(ctx, p.userID)
	if err != nil {
		return nil, err
	}
	items := make(map[models.BadgeKey]models.EarnedBadge, len(badges))
	for _, badge := range badges {
		items[badge.BadgeName] = badge
	}
	return items, nil
}

func (p *badgePersister) Save(ctx context.Context, items map[models.BadgeKey]models.EarnedBadge) error {
	badges := make([]models.EarnedBadge, 0, len(items))
	for _, badge := range items {
		badges = append(badges, badge)
	}
	return p.repo.AssignToUser(ctx, p.userID, badges...)
}
