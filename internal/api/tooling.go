package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"workbench/internal/tooling"
)

var errToolingDisabled = errors.New("tooling registry is not configured")

func (s *Server) requireTooling(c echo.Context) bool {
	if s.tooling != nil {
		return true
	}
	_ = errorJSON(c, http.StatusServiceUnavailable, errToolingDisabled.Error())
	return false
}

func (s *Server) handleTooling(c echo.Context) error {
	if !s.requireTooling(c) {
		return nil
	}
	return c.JSON(http.StatusOK, s.tooling.Config())
}

func (s *Server) handleToolingReload(c echo.Context) error {
	if !s.requireTooling(c) {
		return nil
	}
	counts, err := s.tooling.Reload()
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, counts)
}

func (s *Server) handleUpsertMCP(c echo.Context) error {
	if !s.requireTooling(c) {
		return nil
	}
	var server tooling.MCPServer
	if err := c.Bind(&server); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	server.Name = c.Param("name")
	if err := s.tooling.UpsertMCPServer(server); err != nil {
		return s.fail(c, err)
	}
	return s.handleTooling(c)
}

func (s *Server) handleDeleteMCP(c echo.Context) error {
	if !s.requireTooling(c) {
		return nil
	}
	if err := s.tooling.DeleteMCPServer(c.Param("name")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type importRequest struct {
	Path string `json:"path"`
}

func bindImport(c echo.Context) (string, bool) {
	var req importRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Path) == "" {
		_ = errorJSON(c, http.StatusBadRequest, "path is required")
		return "", false
	}
	return strings.TrimSpace(req.Path), true
}

func (s *Server) handleImportSkill(c echo.Context) error {
	if !s.requireTooling(c) {
		return nil
	}
	path, ok := bindImport(c)
	if !ok {
		return nil
	}
	skill, err := s.tooling.ImportSkill(path)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, skill)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleToggleSkill(c echo.Context) error {
	if !s.requireTooling(c) {
		return nil
	}
	var req toggleRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return errorJSON(c, http.StatusBadRequest, "enabled is required")
	}
	if err := s.tooling.ToggleSkill(c.Param("id"), *req.Enabled); err != nil {
		return s.fail(c, err)
	}
	return s.handleTooling(c)
}

func (s *Server) handleDeleteSkill(c echo.Context) error {
	if !s.requireTooling(c) {
		return nil
	}
	if err := s.tooling.DeleteSkill(c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleUpsertCommand(c echo.Context) error {
	if !s.requireTooling(c) {
		return nil
	}
	var cmd tooling.Command
	if err := c.Bind(&cmd); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	cmd.Slug = c.Param("slug")
	if err := s.tooling.UpsertCommand(cmd); err != nil {
		return s.fail(c, err)
	}
	return s.handleTooling(c)
}

func (s *Server) handleDeleteCommand(c echo.Context) error {
	if !s.requireTooling(c) {
		return nil
	}
	if err := s.tooling.DeleteCommand(c.Param("slug")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleImportCommand(c echo.Context) error {
	if !s.requireTooling(c) {
		return nil
	}
	path, ok := bindImport(c)
	if !ok {
		return nil
	}
	cmd, err := s.tooling.ImportCommandMarkdown(path)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, cmd)
}
