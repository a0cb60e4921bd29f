package models

import (
	"fmt"
	"strings"
)

type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Valid reports whether the identity can own progress and badges.
func (i *Identity) Valid() bool {
	return i != nil && i.ID > 0
}

func (i *Identity) DisplayName() string {
	if i == nil {
		return "<anonymous>"
	}
	var parts []string
	if i.Username != "" {
		parts = append(parts, fmt.Sprintf("@%s", i.Username))
	}
	parts = append(parts, fmt.Sprintf("[%d]", i.ID))
	return strings.Join(parts, " ")
}
