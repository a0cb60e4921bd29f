package db

import (
	"context"
	"database/sql"

	"github.com/ad/go-techlabs-agent/internal/localfirst"
	"github.com/ad/go-techlabs-agent/internal/models"
)

// ProgressRepository keeps the durable copy of each user's progress cache.
type ProgressRepository struct {
	queue *DBQueue
}

func NewProgressRepository(queue *DBQueue) *ProgressRepository {
	return &ProgressRepository{queue: queue}
}

// ReplaceAll overwrites the stored snapshot of a user's rooms.
func (r *ProgressRepository) ReplaceAll(ctx context.Context, userID int64, records []models.ProgressRecord) error {
	_, err := r.queue.Execute(ctx, func(db *sql.DB) (any, error) {
		tx, err := db.Begin()
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM progress_cache WHERE user_id = ?`, userID); err != nil {
			return nil, err
		}

		stmt, err := tx.Prepare(`
			INSERT INTO progress_cache (user_id, room_name, progress_percentage, score, current_level,
				time_spent, attempts, completed, notes, last_accessed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return nil, err
		}
		defer stmt.Close()

		for _, record := range records {
			var lastAccessed sql.NullString
			if record.LastAccessed != nil {
				lastAccessed = sql.NullString{String: toTS(*record.LastAccessed), Valid: true}
			}
			if _, err := stmt.Exec(userID, record.RoomName, record.ProgressPercentage, record.Score,
				record.CurrentLevel, record.TimeSpent, record.Attempts, record.Completed,
				record.Notes, lastAccessed); err != nil {
				return nil, err
			}
		}
		return nil, tx.Commit()
	})
	return err
}

func (r *ProgressRepository) GetUserProgress(ctx context.Context, userID int64) ([]models.ProgressRecord, error) {
	result, err := r.queue.Execute(ctx, func(db *sql.DB) (any, error) {
		rows, err := db.Query(`
			SELECT room_name, progress_percentage, score, current_level, time_spent,
				attempts, completed, notes, last_accessed
			FROM progress_cache WHERE user_id = ? ORDER BY room_name
		`, userID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var records []models.ProgressRecord
		for rows.Next() {
			var record models.ProgressRecord
			var lastAccessed sql.NullString
			if err := rows.Scan(&record.RoomName, &record.ProgressPercentage, &record.Score,
				&record.CurrentLevel, &record.TimeSpent, &record.Attempts, &record.Completed,
				&record.Notes, &lastAccessed); err != nil {
				return nil, err
			}
			if lastAccessed.Valid {
				t := fromTS(lastAccessed.String)
				record.LastAccessed = &t
			}
			records = append(records, record)
		}
		return records, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.ProgressRecord), nil
}

// ForUser binds the repository to one user as a cache persister.
func (r *ProgressRepository) ForUser(userID int64) localfirst.Persister[models.Room, models.ProgressRecord] {
	return &progressPersister{repo: r, userID: userID}
}

type progressPersister struct {
	repo   *ProgressRepository
	userID int64
}

func (p *progressPersister) Load(ctx context.Context) (map[models.Room]models.ProgressRecord, error) {
	records, err := p.repo.GetUserProgress(ctx, p.userID)
	if err != nil {
		return nil, err
	}
	items := make(map[models.Room]models.ProgressRecord, len(records))
	for _, record := range records {
		items[record.RoomName] = record
	}
	return items, nil
}

func (p *progressPersister) Save(ctx context.Context, items map[models.Room]models.ProgressRecord) error {
	records := make([]models.ProgressRecord, 0, len(items))
	for _, record := range items {
		records = append(records, record)
	}
	return p.repo.ReplaceAll(ctx, p.userID, records)
}
