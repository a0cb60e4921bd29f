package models

import (
	"fmt"
	"strings"
	"time"
)

type BadgeType string

const (
	BadgeTypeLevel      BadgeType = "level"
	BadgeTypeDifficulty BadgeType = "difficulty"
	BadgeTypeRoom       BadgeType = "room"
	BadgeTypeSpecial    BadgeType = "special"
	BadgeTypeMilestone  BadgeType = "milestone"
	BadgeTypeLegendary  BadgeType = "legendary"
)

func (t BadgeType) IsValid() bool {
	switch t {
	case BadgeTypeLevel, BadgeTypeDifficulty, BadgeTypeRoom,
		BadgeTypeSpecial, BadgeTypeMilestone, BadgeTypeLegendary:
		return true
	}
	return false
}

type Difficulty string

const (
	DifficultyEasy Difficulty = "easy"
	DifficultyHard Difficulty = "hard"
)

// BadgeKey identifies a badge in the catalog. Keys are built with the
// constructors below so that room names are always game codenames.
type BadgeKey string

const (
	BadgePerfectScore BadgeKey = "perfect_score_specialist"
	BadgeSpeedRunner  BadgeKey = "speed_runner"
	BadgeRoomExplorer BadgeKey = "room_explorer"
	BadgeTechPolymath BadgeKey = "tech_polymath"
)

const roomCompleteSuffix = "_room_complete"

// AllRoomsScope is the room value of cross-room badges.
const AllRoomsScope = "all"

func LevelBadge(room Room, level int) BadgeKey {
	return BadgeKey(fmt.Sprintf("%s_level_%d", room.Codename(), level))
}

func RoomCompleteBadge(room Room) BadgeKey {
	return BadgeKey(room.Codename() + roomCompleteSuffix)
}

func DifficultyBadge(room Room, difficulty Difficulty) BadgeKey {
	return BadgeKey(fmt.Sprintf("%s_%s_complete", room.Codename(), difficulty))
}

func (k BadgeKey) IsRoomComplete() bool {
	return strings.HasSuffix(string(k), roomCompleteSuffix)
}

func (k BadgeKey) String() string {
	return string(k)
}

type BadgeDefinition struct {
	Key         BadgeKey  `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	Color       string    `json:"color"`
	Type        BadgeType `json:"type"`
	Points      int       `json:"points"`
	Room        string    `json:"room"`
}

type EarnedBadge struct {
	BadgeName BadgeKey  `json:"badge_name"`
	EarnedAt  time.Time `json:"earned_at"`
	BadgeDefinition
	Context map[string]any `json:"metadata,omitempty"`
}

// BadgeAward is the remote persistence task for a newly earned badge.
type BadgeAward struct {
	UserID int64       `json:"user_id"`
	Badge  EarnedBadge `json:"badge"`
}
