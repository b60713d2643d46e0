// Package web exposes the HTTP API.
package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/marginote/marginote/internal/domain"
	"github.com/marginote/marginote/internal/logger"
	"github.com/marginote/marginote/internal/srs"
	"github.com/marginote/marginote/internal/storage"
	"github.com/marginote/marginote/internal/study"
)

// Trigger runs a background process on demand.
type Trigger interface {
	RunAll(now time.Time) error
}

// Server holds the dependencies for the HTTP API.
type Server struct {
	db       *storage.DB
	study    *study.Service
	digests  Trigger
	importer Trigger
	log      *logger.Logger
	router   *gin.Engine
}

// NewServer creates and configures a new server. mode is a gin mode
// ("debug" or "release").
func NewServer(db *storage.DB, studySvc *study.Service, digests, importer Trigger, log *logger.Logger, mode string) *Server {
	gin.SetMode(mode)
	s := &Server{
		db:       db,
		study:    studySvc,
		digests:  digests,
		importer: importer,
		log:      log.With("service", "web"),
		router:   gin.New(),
	}
	s.router.Use(gin.Recovery())
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	api := s.router.Group("/api")

	api.GET("/decks/:id/study", s.handleGetStudySession)
	api.POST("/cards/:id/review", s.handlePostReview)
	api.GET("/cards/:id/preview", s.handleGetPreview)
	api.POST("/virtual-cards/:highlightID/review", s.handlePostVirtualReview)

	api.GET("/users/:id/digest-settings", s.handleGetDigestSettings)
	api.PUT("/users/:id/digest-settings", s.handlePutDigestSettings)

	admin := api.Group("/admin")
	admin.POST("/digest/trigger", s.handleTriggerDigest)
	admin.POST("/import/trigger", s.handleTriggerImport)
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// fail maps domain errors onto HTTP statuses: invalid input 400, missing
// rows 404, write races and double materialization 409, everything else 500.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, srs.ErrInvalidRating), errors.Is(err, srs.ErrInvalidState):
		c.JSON(http.StatusBadRequest, errorBody{Kind: "invalid_input", Message: err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody{Kind: "not_found", Message: err.Error()})
	case errors.Is(err, storage.ErrConflict), errors.Is(err, study.ErrAlreadyMaterialized):
		c.JSON(http.StatusConflict, errorBody{Kind: "conflict", Message: err.Error()})
	default:
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, errorBody{Kind: "internal", Message: "internal error"})
	}
}

func (s *Server) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody{Kind: "invalid_input", Message: msg})
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Kind: "invalid_input", Message: "invalid " + param})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleGetStudySession(c *gin.Context) {
	deckID, ok := parseID(c, "id")
	if !ok {
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	session, err := s.study.Session(deckID, time.Now().UTC(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

type reviewRequest struct {
	Rating srs.Rating `json:"rating"`
}

func (s *Server) handlePostReview(c *gin.Context) {
	cardID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "rating must be an integer from 1 to 4")
		return
	}

	result, err := s.study.Review(cardID, req.Rating, time.Now().UTC())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type virtualReviewRequest struct {
	Rating srs.Rating `json:"rating"`
	DeckID *uuid.UUID `json:"deck_id"`
}

func (s *Server) handlePostVirtualReview(c *gin.Context) {
	highlightID, ok := parseID(c, "highlightID")
	if !ok {
		return
	}
	var req virtualReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "rating must be an integer from 1 to 4")
		return
	}
	deckID := uuid.Nil
	if req.DeckID != nil {
		deckID = *req.DeckID
	}

	result, err := s.study.ReviewVirtual(highlightID, deckID, req.Rating, time.Now().UTC())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) handleGetPreview(c *gin.Context) {
	cardID, ok := parseID(c, "id")
	if !ok {
		return
	}
	preview, err := s.study.Preview(cardID, time.Now().UTC())
	if err != nil {
		s.fail(c, err)
		return
	}

	// Keyed by rating name so the client does not deal with numeric keys.
	out := make(map[string]srs.SchedulingState, len(preview))
	for rating, state := range preview {
		out[rating.String()] = state
	}
	c.JSON(http.StatusOK, out)
}

type digestSettingsBody struct {
	Enabled       bool             `json:"enabled"`
	PreferredHour int              `json:"preferred_hour"`
	Timezone      string           `json:"timezone"`
	Frequency     domain.Frequency `json:"frequency"`
}

func (s *Server) handleGetDigestSettings(c *gin.Context) {
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}
	settings, err := s.db.GetDigestSettings(userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, digestSettingsBody{
		Enabled:       settings.Enabled,
		PreferredHour: settings.PreferredHour,
		Timezone:      settings.Timezone,
		Frequency:     settings.Frequency,
	})
}

func (s *Server) handlePutDigestSettings(c *gin.Context) {
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var body digestSettingsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, "malformed digest settings")
		return
	}

	settings := domain.DigestSettings{
		UserID:        userID,
		Enabled:       body.Enabled,
		PreferredHour: body.PreferredHour,
		Timezone:      body.Timezone,
		Frequency:     body.Frequency,
	}
	if err := settings.Validate(); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	if err := s.db.PutDigestSettings(settings); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, body)
}

// handleTriggerDigest sends digests to every enabled user immediately,
// regardless of their preferred hour or frequency.
func (s *Server) handleTriggerDigest(c *gin.Context) {
	if err := s.digests.RunAll(time.Now().UTC()); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleTriggerImport(c *gin.Context) {
	if err := s.importer.RunAll(time.Now().UTC()); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
