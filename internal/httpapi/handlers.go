package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"insightcore/internal/engine"
	"insightcore/internal/eventstore"
	"insightcore/internal/experiments"
	"insightcore/internal/query"
)

// queryRequest is the shared envelope of every query endpoint.
type queryRequest struct {
	TeamID uint         `json:"team_id"`
	Query  *query.Query `json:"query"`
}

func (r *queryRequest) scope() engine.Scope {
	return engine.Scope{TeamID: r.TeamID}
}

func parseQueryRequest(c *fiber.Ctx) (*queryRequest, error) {
	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}
	if req.Query == nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "query is required")
	}
	return &req, nil
}

type healthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) healthAction(c *fiber.Ctx) error {
	return c.JSON(healthStatus{Status: "ok", Timestamp: time.Now()})
}

func (s *Server) funnelAction(c *fiber.Ctx) error {
	req, err := parseQueryRequest(c)
	if err != nil {
		return err
	}
	result, err := s.engine.EvaluateFunnel(c.Context(), req.scope(), req.Query)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (s *Server) funnelTrendsAction(c *fiber.Ctx) error {
	req, err := parseQueryRequest(c)
	if err != nil {
		return err
	}
	points, err := s.engine.EvaluateFunnelTrends(c.Context(), req.scope(), req.Query)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"points": points})
}

type funnelActorsRequest struct {
	queryRequest
	Step           int    `json:"step"`
	BreakdownValue string `json:"breakdown_value,omitempty"`
	Page           int    `json:"page"`
}

func (s *Server) funnelActorsAction(c *fiber.Ctx) error {
	var req funnelActorsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}
	if req.Query == nil {
		return fiber.NewError(fiber.StatusBadRequest, "query is required")
	}
	page, err := s.engine.ListActorsAtStep(c.Context(), req.scope(), req.Query, req.Step, req.BreakdownValue, req.Page)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (s *Server) trendsAction(c *fiber.Ctx) error {
	req, err := parseQueryRequest(c)
	if err != nil {
		return err
	}
	series, err := s.engine.EvaluateTrends(c.Context(), req.scope(), req.Query)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"series": series})
}

func (s *Server) stickinessAction(c *fiber.Ctx) error {
	req, err := parseQueryRequest(c)
	if err != nil {
		return err
	}
	result, err := s.engine.EvaluateStickiness(c.Context(), req.scope(), req.Query)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

type experimentRequest struct {
	Variants []experiments.Variant `json:"variants"`
}

func (s *Server) experimentAction(c *fiber.Ctx) error {
	var req experimentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}
	result, err := s.engine.EvaluateExperiment(req.Variants)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

type ingestRequest struct {
	TeamID uint                  `json:"team_id"`
	Events []eventstore.RawEvent `json:"events"`
}

func (s *Server) ingestAction(c *fiber.Ctx) error {
	var req ingestRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}
	if len(req.Events) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "events are required")
	}
	scope := engine.Scope{TeamID: req.TeamID}
	if err := s.ingestor.Ingest(c.Context(), scope, req.Events); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ingested": len(req.Events)})
}
