package handlers

import (
	"github.com/ad/go-techlabs-agent/internal/models"
	"github.com/gofiber/fiber/v2"
)

func (a *API) userBadges(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"badges":       a.achievements.GetUserBadges(),
		"total_points": a.achievements.TotalPoints(),
	})
}

func (a *API) catalog(c *fiber.Ctx) error {
	return c.JSON(a.achievements.Catalog().All())
}

func (a *API) hasBadge(c *fiber.Ctx) error {
	key := models.BadgeKey(c.Params("key"))
	return c.JSON(fiber.Map{
		"badge_name": key,
		"earned":     a.achievements.HasBadge(key),
	})
}

func (a *API) awardBadge(c *fiber.Ctx) error {
	key := models.BadgeKey(c.Params("key"))
	var badgeCtx map[string]any
	if err := parseBody(c, &badgeCtx); err != nil {
		return err
	}
	awarded := a.achievements.AwardBadge(c.UserContext(), key, badgeCtx)
	return c.JSON(fiber.Map{
		"badge_name": key,
		"awarded":    awarded,
		"earned":     a.achievements.HasBadge(key),
	})
}

type levelCheckRequest struct {
	Room      string         `json:"room"`
	Level     int            `json:"level"`
	Score     int            `json:"score"`
	TimeSpent int            `json:"time_spent"`
	Extra     map[string]any `json:"extra"`
}

type roomCheckRequest struct {
	Room            string         `json:"room"`
	TotalScore      int            `json:"total_score"`
	TotalTime       int            `json:"total_time"`
	CompletedLevels int            `json:"completed_levels"`
	Extra           map[string]any `json:"extra"`
}

type difficultyCheckRequest struct {
	Room            string            `json:"room"`
	Difficulty      models.Difficulty `json:"difficulty"`
	CompletedLevels int               `json:"completed_levels"`
	Extra           map[string]any    `json:"extra"`
}

func awardedResponse(c *fiber.Ctx, awarded []models.BadgeKey) error {
	if awarded == nil {
		awarded = []models.BadgeKey{}
	}
	return c.JSON(fiber.Map{"awarded": awarded})
}

func (a *API) checkLevel(c *fiber.Ctx) error {
	var req levelCheckRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	room, err := roomField(req.Room)
	if err != nil {
		return err
	}
	return awardedResponse(c, a.achievements.CheckLevelCompletion(c.UserContext(), room, req.Level, req.Score, req.TimeSpent, req.Extra))
}

func (a *API) checkRoom(c *fiber.Ctx) error {
	req := roomCheckRequest{CompletedLevels: models.MaxLevel}
	if err := parseBody(c, &req); err != nil {
		return err
	}
	room, err := roomField(req.Room)
	if err != nil {
		return err
	}
	return awardedResponse(c, a.achievements.CheckRoomCompletion(c.UserContext(), room, req.TotalScore, req.TotalTime, req.CompletedLevels, req.Extra))
}

func (a *API) checkDifficulty(c *fiber.Ctx) error {
	var req difficultyCheckRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	room, err := roomField(req.Room)
	if err != nil {
		return err
	}
	return awardedResponse(c, a.achievements.CheckDifficultyCompletion(c.UserContext(), room, req.Difficulty, req.CompletedLevels, req.Extra))
}

func (a *API) checkAllRooms(c *fiber.Ctx) error {
	return awardedResponse(c, a.achievements.CheckAllRoomsCompletion(c.UserContext()))
}
