package db

import (
	"context"
	"testing"
	"time"

	"github.com/ad/go-techlabs-agent/internal/models"
)

func testEarnedBadge(key models.BadgeKey, points int) models.EarnedBadge {
	return models.EarnedBadge{
		BadgeName: key,
		EarnedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		BadgeDefinition: models.BadgeDefinition{
			Key:    key,
			Name:   "Badge " + string(key),
			Type:   models.BadgeTypeLevel,
			Points: points,
			Room:   "netxus",
		},
		Context: map[string]any{"score": float64(88)},
	}
}

func TestBadgeRepository_AssignIsIdempotent(t *testing.T) {
	queue := setupTestQueue(t)
	repo := NewBadgeRepository(queue)
	ctx := context.Background()

	first := testEarnedBadge("netxus_level_1", 10)
	if err := repo.AssignToUser(ctx, 3, first); err != nil {
		t.Fatal(err)
	}

	again := first
	again.Points = 999
	again.EarnedAt = time.Now()
	if err := repo.AssignToUser(ctx, 3, again, testEarnedBadge("netxus_level_2", 15)); err != nil {
		t.Fatal(err)
	}

	badges, err := repo.GetUserBadges(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(badges) != 2 {
		t.Fatalf("expected 2 badges, got %d", len(badges))
	}
	for _, b := range badges {
		if b.BadgeName == "netxus_level_1" {
			if b.Points != 10 {
				t.Errorf("earned badge must not be rewritten, points = %d", b.Points)
			}
			if !b.EarnedAt.Equal(first.EarnedAt) {
				t.Errorf("earned_at changed to %v", b.EarnedAt)
			}
			if b.Context["score"] != float64(88) {
				t.Errorf("context lost: %v", b.Context)
			}
		}
	}

	other, err := repo.GetUserBadges(ctx, 4)
	if err != nil || len(other) != 0 {
		t.Errorf("other user must not hold the badges: %v, %v", other, err)
	}
}

func TestBadgeRepository_ForUserPersister(t *testing.T) {
	queue := setupTestQueue(t)
	persister := NewBadgeRepository(queue).ForUser(11)
	ctx := context.Background()

	items := map[models.BadgeKey]models.EarnedBadge{
		models.BadgeRoomExplorer: testEarnedBadge(models.BadgeRoomExplorer, 25),
	}
	if err := persister.Save(ctx, items); err != nil {
		t.Fatal(err)
	}
	loaded, err := persister.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := loaded[models.BadgeRoomExplorer]; !ok || len(loaded) != 1 {
		t.Errorf("unexpected loaded badges %+v", loaded)
	}
}
