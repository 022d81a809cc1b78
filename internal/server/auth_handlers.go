package server

import (
	"github.com/gofiber/fiber/v2"

	"github.com/celadon-dev/celadon/internal/apperr"
	"github.com/celadon-dev/celadon/internal/llm"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleRegister creates the account and logs it straight in, so the
// response carries a usable bearer token alongside the user id.
func (s *Server) handleRegister(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apperr.Validation("invalid request body"))
	}
	userID, err := s.auth.Register(c.Context(), req.Email, req.Password)
	if err != nil {
		return writeError(c, err)
	}
	_, token, err := s.auth.Login(c.Context(), req.Email, req.Password)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"user_id": userID, "token": token})
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apperr.Validation("invalid request body"))
	}
	userID, token, err := s.auth.Login(c.Context(), req.Email, req.Password)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"user_id": userID, "token": token})
}

func (s *Server) handleLogout(c *fiber.Ctx) error {
	token, _ := c.Locals("token").(string)
	if err := s.auth.Logout(c.Context(), token); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) handleMe(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	email, err := s.auth.UserEmail(c.Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"user_id":  userID,
		"email":    email,
		"is_admin": s.auth.IsAdmin(email),
	})
}

// requireAdmin gates the settings endpoints on the configured
// administrator email.
func (s *Server) requireAdmin(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	email, err := s.auth.UserEmail(c.Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	if !s.auth.IsAdmin(email) {
		return writeError(c, apperr.New(apperr.KindAuth, "administrator access required"))
	}
	return c.Next()
}

func (s *Server) handleListSettings(c *fiber.Ctx) error {
	settings, err := s.db.ListSettings(c.Context())
	if err != nil {
		return writeError(c, apperr.Wrap(apperr.KindPersistence, err, "list settings"))
	}
	out := make([]fiber.Map, 0, len(settings))
	for _, st := range settings {
		out = append(out, fiber.Map{"key": st.Key, "value": st.Value})
	}
	return c.JSON(fiber.Map{"settings": out})
}

type settingRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleUpdateSetting(c *fiber.Ctx) error {
	var req settingRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apperr.Validation("invalid request body"))
	}
	if req.Key == "" {
		return writeError(c, apperr.Validation("key is required"))
	}
	if err := s.db.SetSetting(c.Context(), req.Key, req.Value); err != nil {
		return writeError(c, apperr.Wrap(apperr.KindPersistence, err, "update setting"))
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) handleProviders(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"providers": llm.ProviderNames()})
}
