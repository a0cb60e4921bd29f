package services

import (
	"fmt"
	"sort"

	"github.com/ad/go-techlabs-agent/internal/models"
)

// BadgeCatalog is the read-only table of every badge that can be earned.
type BadgeCatalog struct {
	defs map[models.BadgeKey]models.BadgeDefinition
}

var levelPoints = [models.MaxLevel]int{10, 15, 20, 25, 30}

const (
	easyCompletePoints = 50
	hardCompletePoints = 100
	roomCompletePoints = 150
)

type levelBadge struct {
	name, challenge, icon, color string
}

type masterBadge struct {
	name, icon, color string
}

type roomBadges struct {
	room   models.Room
	label  string
	unit   string
	levels [models.MaxLevel]levelBadge
	master masterBadge
}

var roomBadgeTable = []roomBadges{
	{
		room: models.RoomAITraining, label: "AITRIX", unit: "challenges",
		levels: [models.MaxLevel]levelBadge{
			{"IP Detective", "AITRIX Challenge 1: IP Address Detective", "bi-search", "#FF6B35"},
			{"Security Expert", "AITRIX Challenge 2: Secure Your Passwords", "bi-shield-lock", "#FF8E53"},
			{"OS Specialist", "AITRIX Challenge 3: OS Matchmaker", "bi-pc-display", "#FFB380"},
			{"Network Builder", "AITRIX Challenge 4: Build a Simple Network", "bi-diagram-3", "#FFC999"},
			{"Cyber Guardian", "AITRIX Challenge 5: Cyber Hygiene Quiz", "bi-shield-check", "#FFD4B3"},
		},
		master: masterBadge{"AITRIX Champion", "bi-trophy-fill", "#FF6B35"},
	},
	{
		room: models.RoomDatabase, label: "SCHEMAX", unit: "challenges",
		levels: [models.MaxLevel]levelBadge{
			{"Database Creator", "SCHEMAX Challenge 1: Employee Directory Table", "bi-table", "#4CAF50"},
			{"Data Inserter", "SCHEMAX Challenge 2: Add IT Staff Records", "bi-plus-circle", "#66BB6A"},
			{"Query Master", "SCHEMAX Challenge 3: Query IT Personnel", "bi-search", "#81C784"},
			{"Constraint Expert", "SCHEMAX Challenge 4: System Access Constraints", "bi-lock", "#A5D6A7"},
			{"Relationship Builder", "SCHEMAX Challenge 5: Department Relationships", "bi-diagram-2", "#C8E6C9"},
		},
		master: masterBadge{"SCHEMAX Master", "bi-award-fill", "#4CAF50"},
	},
	{
		room: models.RoomProgramming, label: "CODEVANCE", unit: "challenges",
		levels: [models.MaxLevel]levelBadge{
			{"Web Page Creator", "CODEVANCE Challenge 1: Basic Webpage", "bi-file-earmark-code", "#2196F3"},
			{"Image Master", "CODEVANCE Challenge 2: Image Display", "bi-image", "#42A5F5"},
			{"List Builder", "CODEVANCE Challenge 3: Favorite Fruits List", "bi-list-ul", "#64B5F6"},
			{"Style Designer", "CODEVANCE Challenge 4: Styled Page", "bi-palette", "#90CAF9"},
			{"Button Stylist", "CODEVANCE Challenge 5: Button with CSS", "bi-square", "#BBDEFB"},
		},
		master: masterBadge{"CODEVANCE Master", "bi-mortarboard-fill", "#2196F3"},
	},
	{
		room: models.RoomFlowchart, label: "FlowByte", unit: "levels",
		levels: [models.MaxLevel]levelBadge{
			{"Flow Starter", "FlowByte Level 1: Simple Start-End Flow", "bi-play-circle", "#9C27B0"},
			{"Decision Maker", "FlowByte Level 2: Decision Making", "bi-arrow-down-up", "#AB47BC"},
			{"Input-Output Expert", "FlowByte Level 3: Input-Output Flow", "bi-arrow-left-right", "#BA68C8"},
			{"Process Engineer", "FlowByte Level 4: Process Chain", "bi-link", "#CE93D8"},
			{"Workflow Master", "FlowByte Level 5: Complete Workflow", "bi-diagram-3", "#E1BEE7"},
		},
		master: masterBadge{"FlowByte Genius", "bi-gem", "#9C27B0"},
	},
	{
		room: models.RoomNetworking, label: "NetXus", unit: "labs",
		levels: [models.MaxLevel]levelBadge{
			{"Network Novice", "NetXus Lab 1: Basic Device Connectivity", "bi-router", "#4CAF50"},
			{"Connection Master", "NetXus Lab 2: Router-to-PC Connectivity", "bi-ethernet", "#2196F3"},
			{"Network Builder", "NetXus Lab 3: Adding a Second Network", "bi-hdd-network", "#FF9800"},
			{"Gateway Guardian", "NetXus Lab 4: Default Gateway Setup", "bi-shield-check", "#9C27B0"},
			{"DHCP Specialist", "NetXus Lab 5: Basic DHCP Configuration", "bi-gear-fill", "#FF5722"},
		},
		master: masterBadge{"Network Engineering Master", "bi-mortarboard-fill", "#8E44AD"},
	},
}

var specialBadges = []models.BadgeDefinition{
	{Key: models.BadgePerfectScore, Name: "Perfectionist", Description: "Achieve perfect score in any room", Icon: "bi-star-fill", Color: "#FFD700", Type: models.BadgeTypeSpecial, Points: 75, Room: models.AllRoomsScope},
	{Key: models.BadgeSpeedRunner, Name: "Speed Demon", Description: "Complete any room in record time", Icon: "bi-lightning-fill", Color: "#00BCD4", Type: models.BadgeTypeSpecial, Points: 100, Room: models.AllRoomsScope},
	{Key: models.BadgeRoomExplorer, Name: "Room Explorer", Description: "Complete your first room", Icon: "bi-door-open", Color: "#4CAF50", Type: models.BadgeTypeMilestone, Points: 25, Room: models.AllRoomsScope},
	{Key: models.BadgeTechPolymath, Name: "Tech Polymath", Description: "Complete all available rooms", Icon: "bi-collection-fill", Color: "#8E44AD", Type: models.BadgeTypeLegendary, Points: 500, Room: models.AllRoomsScope},
}

func defaultBadgeDefinitions() []models.BadgeDefinition {
	var defs []models.BadgeDefinition
	for _, rb := range roomBadgeTable {
		codename := rb.room.Codename()
		for i, lvl := range rb.levels {
			defs = append(defs, models.BadgeDefinition{
				Key:         models.LevelBadge(rb.room, i+1),
				Name:        lvl.name,
				Description: "Complete " + lvl.challenge,
				Icon:        lvl.icon,
				Color:       lvl.color,
				Type:        models.BadgeTypeLevel,
				Points:      levelPoints[i],
				Room:        codename,
			})
		}
		defs = append(defs,
			models.BadgeDefinition{
				Key:         models.DifficultyBadge(rb.room, models.DifficultyEasy),
				Name:        rb.label + " Explorer",
				Description: fmt.Sprintf("Complete all Easy %s %s", rb.label, rb.unit),
				Icon:        "bi-trophy",
				Color:       "#FFD700",
				Type:        models.BadgeTypeDifficulty,
				Points:      easyCompletePoints,
				Room:        codename,
			},
			models.BadgeDefinition{
				Key:         models.DifficultyBadge(rb.room, models.DifficultyHard),
				Name:        rb.label + " Expert",
				Description: fmt.Sprintf("Complete all Advanced %s %s", rb.label, rb.unit),
				Icon:        "bi-award",
				Color:       "#E91E63",
				Type:        models.BadgeTypeDifficulty,
				Points:      hardCompletePoints,
				Room:        codename,
			},
			models.BadgeDefinition{
				Key:         models.RoomCompleteBadge(rb.room),
				Name:        rb.master.name,
				Description: fmt.Sprintf("Complete the entire %s room", rb.label),
				Icon:        rb.master.icon,
				Color:       rb.master.color,
				Type:        models.BadgeTypeRoom,
				Points:      roomCompletePoints,
				Room:        codename,
			},
		)
	}
	return append(defs, specialBadges...)
}

// NewBadgeCatalog validates defs and indexes them by key. Keys must be unique
// and every definition needs a name, a known type and non-negative points.
func NewBadgeCatalog(defs []models.BadgeDefinition) (*BadgeCatalog, error) {
	c := &BadgeCatalog{defs: make(map[models.BadgeKey]models.BadgeDefinition, len(defs))}
	for _, def := range defs {
		if def.Key == "" {
			return nil, fmt.Errorf("badge %q has no key", def.Name)
		}
		if _, dup := c.defs[def.Key]; dup {
			return nil, fmt.Errorf("duplicate badge key %s", def.Key)
		}
		if def.Name == "" {
			return nil, fmt.Errorf("badge %s has no name", def.Key)
		}
		if !def.Type.IsValid() {
			return nil, fmt.Errorf("badge %s has unknown type %q", def.Key, def.Type)
		}
		if def.Points < 0 {
			return nil, fmt.Errorf("badge %s has negative points", def.Key)
		}
		c.defs[def.Key] = def
	}
	return c, nil
}

func DefaultBadgeCatalog() (*BadgeCatalog, error) {
	return NewBadgeCatalog(defaultBadgeDefinitions())
}

// MustDefaultBadgeCatalog panics if the built-in table is inconsistent.
func MustDefaultBadgeCatalog() *BadgeCatalog {
	c, err := DefaultBadgeCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

func (c *BadgeCatalog) Lookup(key models.BadgeKey) (models.BadgeDefinition, bool) {
	def, ok := c.defs[key]
	return def, ok
}

// All returns every definition ordered by key.
func (c *BadgeCatalog) All() []models.BadgeDefinition {
	out := make([]models.BadgeDefinition, 0, len(c.defs))
	for _, def := range c.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (c *BadgeCatalog) Len() int {
	return len(c.defs)
}
