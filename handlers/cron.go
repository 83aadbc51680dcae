package handlers

import (
	"fitparty/middleware"
	"fitparty/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupCronRoutes exposes the batch jobs to the external scheduler.
func SetupCronRoutes(app *fiber.App, sweeper *services.SweepService, cronSecret string, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	cron := app.Group("/internal/cron", middleware.CronSecretMiddleware(cronSecret))

	cron.Post("/party-sweep", func(c *fiber.Ctx) error {
		res, err := sweeper.Run(c.UserContext())
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"expired": res.Expired,
			"purged":  res.Purged,
		})
	})
}

// SetupHealthRoutes registers the liveness probe, which also pings the database.
func SetupHealthRoutes(app *fiber.App, db *gorm.DB) {
	app.Get("/health", func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
				"error":  "database unreachable",
			})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
}
