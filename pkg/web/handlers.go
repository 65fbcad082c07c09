package web

import (
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-hullwatch/pkg/pipeline"
)

// handleHealth reports process liveness.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleReady is 200 only while a stream is being read.
func (s *Server) handleReady(c *fiber.Ctx) error {
	if s.status == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "starting"})
	}
	state := s.status.State()
	if state != pipeline.StateRunning {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": state.String()})
	}
	return c.JSON(fiber.Map{"status": state.String()})
}

// handleStatus returns the current run status.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	if s.status == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "pipeline not configured"})
	}
	return c.JSON(s.status.Status())
}

// handleEvents returns buffered events, oldest first.
func (s *Server) handleEvents(c *fiber.Ctx) error {
	return c.JSON(s.Recent())
}
