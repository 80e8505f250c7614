package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/david/grant-matcher/internal/db"
	"github.com/david/grant-matcher/internal/ingest"
	"github.com/david/grant-matcher/internal/logging"
	"github.com/david/grant-matcher/internal/matching"
	"github.com/david/grant-matcher/internal/models"
	"github.com/david/grant-matcher/internal/website"
)

type matchRequest struct {
	URL             string   `json:"url"`
	Text            string   `json:"text"`
	EstimatedBudget *float64 `json:"estimated_budget"`
}

type matchResponse struct {
	RequestID string               `json:"request_id"`
	Source    string               `json:"source"`
	URL       string               `json:"url,omitempty"`
	Title     string               `json:"title,omitempty"`
	Truncated bool                 `json:"truncated"`
	Matches   []models.MatchResult `json:"matches"`
	Message   string               `json:"message,omitempty"`
}

func (s *Server) handleMatch(c echo.Context) error {
	var req matchRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request")
	}
	req.URL = strings.TrimSpace(req.URL)
	req.Text = strings.TrimSpace(req.Text)

	switch {
	case req.URL == "" && req.Text == "":
		return errorJSON(c, http.StatusBadRequest, "either url or text is required")
	case req.URL != "" && req.Text != "":
		return errorJSON(c, http.StatusBadRequest, "provide url or text, not both")
	case req.EstimatedBudget != nil && *req.EstimatedBudget < 0:
		return errorJSON(c, http.StatusBadRequest, "estimated_budget must be >= 0")
	}

	ctx := c.Request().Context()
	requestID := s.requestID(c)
	logger := logging.ForRequest(s.logger, requestID)
	resp := matchResponse{RequestID: requestID, Source: "text"}

	text := req.Text
	if req.URL != "" {
		if s.extractor == nil {
			return errorJSON(c, http.StatusServiceUnavailable, "website extraction is not configured")
		}
		page, err := s.extractor.Extract(ctx, req.URL)
		if err != nil {
			if errors.Is(err, website.ErrInvalidURL) || errors.Is(err, website.ErrBlockedHost) {
				return errorJSON(c, http.StatusBadRequest, err.Error())
			}
			if isContextErr(err) {
				return errorJSON(c, http.StatusGatewayTimeout, "website fetch timed out")
			}
			logger.Warn("website extraction failed", zap.String("url", req.URL), zap.Error(err))
			return errorJSON(c, http.StatusBadGateway, "could not fetch website")
		}
		if page.Text == "" {
			return errorJSON(c, http.StatusUnprocessableEntity, "no readable text found on website")
		}
		text = page.Text
		resp.Source, resp.URL, resp.Title, resp.Truncated = "url", page.URL, page.Title, page.Truncated
	} else {
		text, resp.Truncated = website.CapText(text, s.maxTextLength)
	}

	results, msg, err := s.matcher.MatchAllGrants(ctx, text, matching.Options{
		RequestID:       requestID,
		EstimatedBudget: req.EstimatedBudget,
	})
	if err != nil {
		logger.Error("matching failed", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
	resp.Matches = results
	resp.Message = msg
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListGrants(c echo.Context) error {
	params := db.ListParams{
		Query:  strings.TrimSpace(c.QueryParam("q")),
		Source: strings.TrimSpace(c.QueryParam("source")),
		Status: c.QueryParam("status"),
		SortBy: c.QueryParam("sort"),
		Limit:  20,
	}
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 100 {
		params.Limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		params.Offset = o
	}
	if open, err := strconv.ParseBool(c.QueryParam("open")); err == nil {
		params.OpenOnly = open
	}

	result, err := s.catalog.ListGrants(c.Request().Context(), params)
	if err != nil {
		s.logger.Error("list grants failed", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetGrant(c echo.Context) error {
	g, err := s.catalog.GetGrant(c.Request().Context(), c.Param("link_hash"))
	if errors.Is(err, db.ErrGrantNotFound) {
		return errorJSON(c, http.StatusNotFound, "Not found")
	}
	if err != nil {
		s.logger.Error("get grant failed", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
	return c.JSON(http.StatusOK, g)
}

func (s *Server) handleGetSources(c echo.Context) error {
	sources, err := s.catalog.GetSources(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sources)
}

func (s *Server) handleGetStats(c echo.Context) error {
	stats, err := s.catalog.GetStats(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleCreateGrant(c echo.Context) error {
	var raw ingest.RawGrant
	if err := c.Bind(&raw); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request")
	}
	g, err := ingest.GrantFromRaw(raw, s.now())
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	inserted, err := s.catalog.UpsertGrant(c.Request().Context(), g)
	if err != nil {
		s.logger.Error("upsert grant failed", zap.String(logging.FieldLinkHash, g.LinkHash), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}

	status := http.StatusOK
	if inserted {
		status = http.StatusCreated
	}
	return c.JSON(status, map[string]interface{}{
		"link_hash": g.LinkHash,
		"inserted":  inserted,
	})
}

func (s *Server) handleSetGrantActive(c echo.Context) error {
	var body struct {
		IsActive *bool `json:"is_active"`
	}
	if err := c.Bind(&body); err != nil || body.IsActive == nil {
		return errorJSON(c, http.StatusBadRequest, "is_active is required")
	}
	linkHash := c.Param("link_hash")
	err := s.catalog.SetGrantActive(c.Request().Context(), linkHash, *body.IsActive)
	if errors.Is(err, db.ErrGrantNotFound) {
		return errorJSON(c, http.StatusNotFound, "Not found")
	}
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"link_hash": linkHash,
		"is_active": *body.IsActive,
	})
}

// handleSeed loads the embedded seed catalog. Seeding from an arbitrary path
// is only offered by the CLI.
func (s *Server) handleSeed(c echo.Context) error {
	raws, err := ingest.LoadSeed("")
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	report, err := ingest.SeedCatalog(c.Request().Context(), s.catalog, raws, s.now(), s.logger)
	if err != nil {
		s.logger.Error("seed failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error":  err.Error(),
			"report": report,
		})
	}
	return c.JSON(http.StatusOK, report)
}
