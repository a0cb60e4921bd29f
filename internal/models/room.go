package models

import (
	"strings"

	"github.com/gosimple/slug"
)

type Room string

const (
	RoomFlowchart   Room = "flowchart"
	RoomNetworking  Room = "networking"
	RoomAITraining  Room = "ai-training"
	RoomDatabase    Room = "database"
	RoomProgramming Room = "programming"
)

// AllRooms lists the canonical rooms in command center order.
var AllRooms = []Room{
	RoomFlowchart,
	RoomNetworking,
	RoomAITraining,
	RoomDatabase,
	RoomProgramming,
}

var roomAliases = map[string]Room{
	"flowbyte":  RoomFlowchart,
	"netxus":    RoomNetworking,
	"aitrix":    RoomAITraining,
	"schemax":   RoomDatabase,
	"codevance": RoomProgramming,
}

var roomCodenames = map[Room]string{
	RoomFlowchart:   "flowbyte",
	RoomNetworking:  "netxus",
	RoomAITraining:  "aitrix",
	RoomDatabase:    "schemax",
	RoomProgramming: "codevance",
}

// NormalizeRoom maps a canonical room name or a game codename to its Room.
func NormalizeRoom(name string) (Room, bool) {
	key := slug.Make(strings.TrimSpace(name))
	if key == "" {
		return "", false
	}
	if room, ok := roomAliases[key]; ok {
		return room, true
	}
	room := Room(key)
	if _, ok := roomCodenames[room]; ok {
		return room, true
	}
	return "", false
}

func (r Room) IsValid() bool {
	_, ok := roomCodenames[r]
	return ok
}

// Codename is the game name used in badge keys, e.g. "netxus".
func (r Room) Codename() string {
	if name, ok := roomCodenames[r]; ok {
		return name
	}
	return string(r)
}

func (r Room) DisplayName() string {
	return strings.ToUpper(r.Codename())
}

func (r Room) String() string {
	return string(r)
}
