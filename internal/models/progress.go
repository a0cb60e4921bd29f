package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	MaxLevel = 5
	// LevelStep is the percentage each finished level or challenge is worth.
	LevelStep = 20
	// DefaultChallengeScore is used when a challenge reports no score.
	DefaultChallengeScore = 10
)

type ProgressRecord struct {
	RoomName           Room       `json:"room_name"`
	ProgressPercentage int        `json:"progress_percentage"`
	Score              int        `json:"score"`
	CurrentLevel       int        `json:"current_level"`
	TimeSpent          int        `json:"time_spent"`
	Attempts           int        `json:"attempts"`
	Completed          bool       `json:"completed"`
	Notes              string     `json:"notes,omitempty"`
	LastAccessed       *time.Time `json:"last_accessed"`
}

// NewProgressRecord returns the zero-progress record used before a room is first touched.
func NewProgressRecord(room Room) ProgressRecord {
	return ProgressRecord{
		RoomName:     room,
		CurrentLevel: 1,
	}
}

// ProgressUpdate is a partial update. Nil fields are absent.
type ProgressUpdate struct {
	ProgressPercentage *int    `json:"progress_percentage,omitempty"`
	Score              *int    `json:"score,omitempty"`
	CurrentLevel       *int    `json:"current_level,omitempty"`
	TimeSpent          *int    `json:"time_spent,omitempty"`
	Attempts           *int    `json:"attempts,omitempty"`
	Completed          *bool   `json:"completed,omitempty"`
	Notes              *string `json:"notes,omitempty"`
}

func Int(v int) *int {
	return &v
}

func Bool(v bool) *bool {
	return &v
}

func String(v string) *string {
	return &v
}

var leadingInt = regexp.MustCompile(`^[+-]?\d+`)

// UnmarshalJSON never fails on field values: numbers are truncated, numeric
// strings are parsed by their leading digits and anything else is treated as absent.
func (u *ProgressUpdate) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*u = ProgressUpdate{
		ProgressPercentage: lenientInt(raw["progress_percentage"]),
		Score:              lenientInt(raw["score"]),
		CurrentLevel:       lenientInt(raw["current_level"]),
		TimeSpent:          lenientInt(raw["time_spent"]),
		Attempts:           lenientInt(raw["attempts"]),
		Completed:          lenientBool(raw["completed"]),
	}
	if notes, ok := raw["notes"]; ok {
		var s string
		if err := json.Unmarshal(notes, &s); err == nil {
			u.Notes = &s
		}
	}
	return nil
}

func lenientInt(raw json.RawMessage) *int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
			return nil
		}
		return Int(int(f))
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	digits := leadingInt.FindString(strings.TrimSpace(s))
	if digits == "" {
		return nil
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return Int(n)
}

func lenientBool(raw json.RawMessage) *bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return Bool(b)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return Bool(parsed)
		}
	}
	return nil
}

type sanitizedUpdate struct {
	percentage int
	score      int
	level      int
	levelSet   bool
	timeSpent  int
	attempts   int
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

// sanitize applies the defaults and clamps of a progress update. A present
// level lifts the percentage to the floor implied by the levels already passed.
func (u ProgressUpdate) sanitize() sanitizedUpdate {
	s := sanitizedUpdate{level: 1, attempts: 1}

	if u.CurrentLevel != nil {
		s.levelSet = true
		s.level = clamp(*u.CurrentLevel, 1, MaxLevel)
	}
	if u.ProgressPercentage != nil {
		s.percentage = clamp(*u.ProgressPercentage, 0, 100)
	}
	if s.levelSet {
		floor := min(100, (s.level-1)*LevelStep)
		if s.percentage < floor {
			s.percentage = floor
		}
	}
	if u.Score != nil {
		s.score = max(0, *u.Score)
	}
	if u.TimeSpent != nil {
		s.timeSpent = max(0, *u.TimeSpent)
	}
	if u.Attempts != nil {
		s.attempts = max(1, *u.Attempts)
	}
	return s
}

// MergeProgress folds an update into the current record. Percentage and score
// keep their maximum, time and attempts accumulate, completion is sticky.
// Reaching 100% or the last level completes the room.
func MergeProgress(current ProgressRecord, u ProgressUpdate, now time.Time) ProgressRecord {
	s := u.sanitize()

	next := current
	next.ProgressPercentage = clamp(max(current.ProgressPercentage, s.percentage), 0, 100)
	next.Score = max(current.Score, s.score)
	next.TimeSpent = max(0, current.TimeSpent) + s.timeSpent
	next.Attempts = max(0, current.Attempts) + s.attempts

	if s.levelSet {
		next.CurrentLevel = s.level
	} else if next.CurrentLevel < 1 {
		next.CurrentLevel = 1
	}
	if u.Notes != nil {
		next.Notes = *u.Notes
	}
	if u.Completed != nil && *u.Completed {
		next.Completed = true
	}
	if next.ProgressPercentage >= 100 || (s.levelSet && s.level >= MaxLevel) {
		next.Completed = true
	}

	accessed := now
	next.LastAccessed = &accessed
	return next
}

type PendingUpdate struct {
	ID           string         `json:"id,omitempty"`
	RoomName     Room           `json:"room_name"`
	ProgressData ProgressRecord `json:"progress_data"`
	Timestamp    time.Time      `json:"timestamp"`
}

type OverallStats struct {
	TotalProgress  int     `json:"total_progress"`
	CompletedRooms int     `json:"completed_rooms"`
	TotalRooms     int     `json:"total_rooms"`
	TotalScore     int     `json:"total_score"`
	AvgProgress    float64 `json:"avg_progress"`
}

func ComputeOverallStats(records []ProgressRecord) OverallStats {
	var stats OverallStats
	if len(records) == 0 {
		return stats
	}

	for _, r := range records {
		stats.TotalProgress += r.ProgressPercentage
		stats.TotalScore += r.Score
		if r.Completed {
			stats.CompletedRooms++
		}
	}
	stats.TotalRooms = len(records)
	stats.AvgProgress = math.Round(float64(stats.TotalProgress)/float64(len(records))*10) / 10
	return stats
}

type ProgressDisplay struct {
	DisplayName  string `json:"display_name"`
	Progress     int    `json:"progress"`
	Score        int    `json:"score"`
	Level        int    `json:"level"`
	Completed    bool   `json:"completed"`
	TimeSpent    string `json:"time_spent"`
	LastAccessed string `json:"last_accessed"`
}

func (r ProgressRecord) Display() ProgressDisplay {
	d := ProgressDisplay{
		DisplayName:  r.RoomName.DisplayName(),
		Progress:     r.ProgressPercentage,
		Score:        r.Score,
		Level:        max(1, r.CurrentLevel),
		Completed:    r.Completed,
		TimeSpent:    FormatDuration(r.TimeSpent),
		LastAccessed: "Never",
	}
	if r.LastAccessed != nil {
		d.LastAccessed = r.LastAccessed.Format("2006-01-02")
	}
	return d
}

// FormatDuration renders seconds as "45s", "12m" or "1h 5m".
func FormatDuration(seconds int) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", max(0, seconds))
	case seconds < 3600:
		return fmt.Sprintf("%dm", seconds/60)
	default:
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
	}
}
