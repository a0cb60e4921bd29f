// Package handlers exposes the progress agent to game modules over a
// loopback HTTP API.
package handlers

import (
	"log"
	"time"

	"github.com/ad/go-techlabs-agent/internal/connectivity"
	"github.com/ad/go-techlabs-agent/internal/models"
	"github.com/ad/go-techlabs-agent/internal/services"
	"github.com/gofiber/fiber/v2"
)

type API struct {
	progress     *services.ProgressStore
	achievements *services.AchievementEngine
	monitor      *connectivity.Monitor
}

func NewAPI(progress *services.ProgressStore, achievements *services.AchievementEngine, monitor *connectivity.Monitor) *API {
	return &API{
		progress:     progress,
		achievements: achievements,
		monitor:      monitor,
	}
}

// NewApp builds the fiber app with every route registered.
func NewApp(api *API) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "labagent",
		DisableStartupMessage: true,
		// Params and bodies outlive the request as cache keys and badge names.
		Immutable: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(logMiddleware)
	api.Register(app)
	return app
}

func logMiddleware(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	log.Printf("[HTTP] %s %s status=%d took=%s", c.Method(), c.Path(), c.Response().StatusCode(), time.Since(start))
	return err
}

func (a *API) Register(app *fiber.App) {
	app.Get("/health", a.health)

	app.Get("/progress", a.allProgress)
	app.Get("/progress/:room", a.roomProgress)
	app.Get("/progress/:room/display", a.roomDisplay)
	app.Post("/progress/:room", a.updateProgress)
	app.Post("/progress/:room/complete", a.completeRoom)
	app.Post("/progress/:room/challenge", a.completeChallenge)
	app.Post("/progress/:room/level", a.incrementLevel)
	app.Post("/progress/:room/reset", a.resetProgress)

	app.Post("/sync", a.sync)
	app.Post("/connectivity", a.setConnectivity)

	app.Get("/badges", a.userBadges)
	app.Get("/badges/catalog", a.catalog)
	app.Get("/badges/:key", a.hasBadge)
	app.Post("/badges/:key", a.awardBadge)

	app.Post("/achievements/level", a.checkLevel)
	app.Post("/achievements/room", a.checkRoom)
	app.Post("/achievements/difficulty", a.checkDifficulty)
	app.Post("/achievements/all-rooms", a.checkAllRooms)
}

// parseBody decodes an optional JSON body. An empty body leaves out untouched.
func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
	return nil
}

func roomParam(c *fiber.Ctx) (string, error) {
	name := c.Params("room")
	if _, ok := models.NormalizeRoom(name); !ok {
		return "", fiber.NewError(fiber.StatusBadRequest, "unknown room: "+name)
	}
	return name, nil
}

func roomField(name string) (string, error) {
	if _, ok := models.NormalizeRoom(name); !ok {
		return "", fiber.NewError(fiber.StatusBadRequest, "unknown room: "+name)
	}
	return name, nil
}

func (a *API) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"online": a.monitor.Online(),
	})
}
