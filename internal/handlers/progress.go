package handlers

import (
	"github.com/ad/go-techlabs-agent/internal/models"
	"github.com/ad/go-techlabs-agent/internal/services"
	"github.com/gofiber/fiber/v2"
)

func (a *API) allProgress(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"room_progress": a.progress.GetAllProgress(),
		"overall_stats": a.progress.GetOverallStats(),
	})
}

func (a *API) roomProgress(c *fiber.Ctx) error {
	room, err := roomParam(c)
	if err != nil {
		return err
	}
	return c.JSON(a.progress.GetProgressForRoom(room))
}

func (a *API) roomDisplay(c *fiber.Ctx) error {
	room, err := roomParam(c)
	if err != nil {
		return err
	}
	return c.JSON(a.progress.GetProgressDisplay(room))
}

func (a *API) progressResult(c *fiber.Ctx, room string, ok bool) error {
	return c.JSON(fiber.Map{
		"success":  ok,
		"progress": a.progress.GetProgressForRoom(room),
	})
}

func (a *API) updateProgress(c *fiber.Ctx) error {
	room, err := roomParam(c)
	if err != nil {
		return err
	}
	var update models.ProgressUpdate
	if err := parseBody(c, &update); err != nil {
		return err
	}
	ok := a.progress.UpdateProgress(c.UserContext(), room, update)
	return a.progressResult(c, room, ok)
}

type completeRoomRequest struct {
	FinalScore *int `json:"final_score"`
}

func (a *API) completeRoom(c *fiber.Ctx) error {
	room, err := roomParam(c)
	if err != nil {
		return err
	}
	var req completeRoomRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	score := 100
	if req.FinalScore != nil {
		score = *req.FinalScore
	}
	ok := a.progress.MarkRoomComplete(c.UserContext(), room, score)
	return a.progressResult(c, room, ok)
}

func (a *API) completeChallenge(c *fiber.Ctx) error {
	room, err := roomParam(c)
	if err != nil {
		return err
	}
	var result services.ChallengeResult
	if err := parseBody(c, &result); err != nil {
		return err
	}
	ok := a.progress.CompleteChallenge(c.UserContext(), room, result)
	return a.progressResult(c, room, ok)
}

type levelRequest struct {
	Level int `json:"level"`
}

func (a *API) incrementLevel(c *fiber.Ctx) error {
	room, err := roomParam(c)
	if err != nil {
		return err
	}
	var req levelRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ok := a.progress.IncrementLevel(c.UserContext(), room, req.Level)
	return a.progressResult(c, room, ok)
}

func (a *API) resetProgress(c *fiber.Ctx) error {
	room, err := roomParam(c)
	if err != nil {
		return err
	}
	ok := a.progress.ResetProgress(c.UserContext(), room)
	return a.progressResult(c, room, ok)
}

func (a *API) sync(c *fiber.Ctx) error {
	ctx := c.UserContext()
	progress := a.progress.SyncOfflineProgress(ctx)
	badges := a.achievements.SyncPendingAwards(ctx)
	return c.JSON(fiber.Map{
		"online":           a.monitor.Online(),
		"progress":         progress,
		"badges":           badges,
		"pending_progress": len(a.progress.PendingUpdates(ctx)),
		"pending_badges":   a.achievements.PendingAwards(ctx),
	})
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

func (a *API) setConnectivity(c *fiber.Ctx) error {
	var req connectivityRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Online == nil {
		return fiber.NewError(fiber.StatusBadRequest, "online is required")
	}
	changed := a.monitor.SetOnline(*req.Online)
	return c.JSON(fiber.Map{
		"online":  a.monitor.Online(),
		"changed": changed,
	})
}
