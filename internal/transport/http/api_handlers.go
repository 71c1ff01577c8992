package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/lukassw/canvashub/internal/auth"
	"github.com/lukassw/canvashub/internal/canvas"
	"github.com/lukassw/canvashub/internal/store"
)

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	authService *auth.Service
	store       store.Store
	coordinator canvas.Handle
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, st store.Store, coordinator canvas.Handle, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		store:       st,
		coordinator: coordinator,
		log:         logger,
	}
}

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=32"`
	Password string `json:"password" binding:"required,min=6"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string `json:"token"`
}

// CreateCanvasRequest represents the canvas creation request body.
type CreateCanvasRequest struct {
	Name string `json:"name" binding:"required,min=1,max=128"`
}

// CanvasResponse represents a canvas in API responses.
type CanvasResponse struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	OwnerID string           `json:"ownerId"`
	Mode    store.CanvasMode `json:"mode"`
	// Token is a reissued auth token whose claims include this canvas.
	Token string `json:"token,omitempty"`
}

// MemberRequest represents a membership change request body.
type MemberRequest struct {
	UserID      string            `json:"userId" binding:"required"`
	AccessLevel store.AccessLevel `json:"accessLevel" binding:"required"`
}

// ModeRequest represents a canvas mode change request body.
type ModeRequest struct {
	Mode store.CanvasMode `json:"mode" binding:"required"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Register handles user registration.
// POST /api/register
func (h *APIHandlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid register request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := h.authService.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
			return
		}
		h.log.Error().Err(err).Str("username", req.Username).Msg("failed to register user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("username", req.Username).Msg("user registered")
	c.JSON(http.StatusCreated, AuthResponse{Token: token})
}

// Login handles user login.
// POST /api/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		h.log.Error().Err(err).Str("username", req.Username).Msg("failed to login user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// CreateCanvas creates a new canvas owned by the caller.
// POST /api/canvases
func (h *APIHandlers) CreateCanvas(c *gin.Context) {
	var req CreateCanvasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	userID := c.GetString(ContextKeyUserID)
	created, err := h.store.CreateCanvas(c.Request.Context(), req.Name, userID)
	if err != nil {
		h.log.Error().Err(err).Str("user", userID).Msg("failed to create canvas")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to create canvas"})
		return
	}

	// Reissue the token so the new canvas appears in the caller's claims.
	token, err := h.authService.RefreshToken(c.Request.Context(), userID)
	if err != nil {
		h.log.Warn().Err(err).Str("user", userID).Msg("failed to refresh token after canvas create")
	}

	h.log.Info().Str("canvas", created.ID).Str("owner", userID).Msg("canvas created")
	c.JSON(http.StatusCreated, CanvasResponse{
		ID:      created.ID,
		Name:    created.Name,
		OwnerID: created.OwnerID,
		Mode:    created.Mode,
		Token:   token,
	})
}

// ListCanvases returns the caller's canvas membership claims.
// GET /api/canvases
func (h *APIHandlers) ListCanvases(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)

	claims, err := h.store.ListUserCanvases(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user", userID).Msg("failed to list canvases")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list canvases"})
		return
	}
	if claims == nil {
		claims = []store.CanvasClaim{}
	}

	c.JSON(http.StatusOK, claims)
}

// SetMemberAccess upserts another user's access level on a canvas, then
// pushes the change into the live coordinator so connected sessions see it.
// POST /api/canvases/:canvas_id/members
func (h *APIHandlers) SetMemberAccess(c *gin.Context) {
	canvasID := c.Param("canvas_id")

	var req MemberRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.AccessLevel.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	callerLevel, ok := h.requireModerate(c, canvasID)
	if !ok {
		return
	}
	// Only an owner may mint another owner.
	if req.AccessLevel == store.AccessOwner && callerLevel != store.AccessOwner {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "only the owner may grant ownership"})
		return
	}

	if err := h.store.SetMemberAccess(c.Request.Context(), canvasID, req.UserID, req.AccessLevel); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "canvas not found"})
			return
		}
		h.log.Error().Err(err).Str("canvas", canvasID).Msg("failed to set member access")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to set member access"})
		return
	}

	h.coordinator.UpdateAccessLevel(canvasID, req.UserID, req.AccessLevel)
	c.Status(http.StatusNoContent)
}

// SetCanvasMode replaces the canvas mode and announces it to live sessions.
// PUT /api/canvases/:canvas_id/mode
func (h *APIHandlers) SetCanvasMode(c *gin.Context) {
	canvasID := c.Param("canvas_id")

	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Mode.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if _, ok := h.requireModerate(c, canvasID); !ok {
		return
	}

	if err := h.store.SetCanvasMode(c.Request.Context(), canvasID, req.Mode); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "canvas not found"})
			return
		}
		h.log.Error().Err(err).Str("canvas", canvasID).Msg("failed to set canvas mode")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to set canvas mode"})
		return
	}

	h.coordinator.UpdateMode(canvasID, req.Mode, c.GetString(ContextKeyUserID))
	c.Status(http.StatusNoContent)
}

// requireModerate checks that the caller holds Moderate or Owner on the
// canvas, responding with the appropriate error when not. The caller's
// level is read from the directory, not the token, so revocations apply
// immediately.
func (h *APIHandlers) requireModerate(c *gin.Context, canvasID string) (store.AccessLevel, bool) {
	meta, err := h.store.GetCanvas(c.Request.Context(), canvasID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "canvas not found"})
			return store.AccessNone, false
		}
		h.log.Error().Err(err).Str("canvas", canvasID).Msg("failed to load canvas")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return store.AccessNone, false
	}

	level := meta.Members[c.GetString(ContextKeyUserID)]
	if level != store.AccessModerate && level != store.AccessOwner {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "insufficient access"})
		return store.AccessNone, false
	}
	return level, true
}
