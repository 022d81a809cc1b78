package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/celadon-dev/celadon/internal/apperr"
)

type startRequest struct {
	Idea string `json:"idea"`
	Name string `json:"name"`
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	var req startRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apperr.Validation("invalid request body"))
	}
	if strings.TrimSpace(req.Idea) == "" {
		return writeError(c, apperr.Validation("idea is required"))
	}
	res, err := s.svc.Start(c.Context(), s.tenant(c), req.Idea, req.Name)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

type ideaRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

func (s *Server) handleIdea(c *fiber.Ctx) error {
	var req ideaRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apperr.Validation("invalid request body"))
	}
	if req.SessionID == "" || strings.TrimSpace(req.Text) == "" {
		return writeError(c, apperr.Validation("session_id and text are required"))
	}
	res, err := s.svc.AppendIdea(c.Context(), s.tenant(c), req.SessionID, req.Text)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handlePrdGenerate(c *fiber.Ctx) error {
	var req sessionRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apperr.Validation("invalid request body"))
	}
	if req.SessionID == "" {
		return writeError(c, apperr.Validation("session_id is required"))
	}
	res, err := s.svc.GeneratePrd(c.Context(), s.tenant(c), req.SessionID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

type devRunRequest struct {
	SessionID   string `json:"session_id"`
	Instruction string `json:"instruction"`
	DryRun      bool   `json:"dry_run"`
	Stream      bool   `json:"stream"`
}

func (s *Server) handleDevRun(c *fiber.Ctx) error {
	var req devRunRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apperr.Validation("invalid request body"))
	}
	if req.SessionID == "" {
		return writeError(c, apperr.Validation("session_id is required"))
	}
	res, err := s.svc.RunDev(c.Context(), s.tenant(c), req.SessionID, req.Instruction, req.DryRun, req.Stream)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

// handleDevStream serves the one-shot event stream of a streaming run as
// server-sent events. Taking the stream removes it from the relay, so a
// second consumer gets "no active stream".
func (s *Server) handleDevStream(c *fiber.Ctx) error {
	sessionID := c.Params("session_id")
	events, err := s.svc.TakeStream(sessionID)
	if err != nil {
		return writeError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("Connection", "keep-alive")
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		for ev := range events {
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			if err := w.Flush(); err != nil {
				// Consumer went away; drain the rest so the producer
				// goroutine can finish.
				for range events {
				}
				return
			}
		}
	}))
	return nil
}

type deployRequest struct {
	SessionID string `json:"session_id"`
	Env       string `json:"env"`
}

func (s *Server) handleDeploy(c *fiber.Ctx) error {
	var req deployRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apperr.Validation("invalid request body"))
	}
	if req.SessionID == "" {
		return writeError(c, apperr.Validation("session_id is required"))
	}
	res, err := s.svc.RunDeploy(c.Context(), s.tenant(c), req.SessionID, req.Env)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	res, err := s.svc.Status(c.Context(), s.tenant(c), c.Params("session_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

func (s *Server) handleProjects(c *fiber.Ctx) error {
	res, err := s.svc.ListProjects(c.Context(), s.tenant(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}
