package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/astro-web3/spacecat-auth/internal/domain/access"
	"github.com/astro-web3/spacecat-auth/internal/domain/auth"
	"github.com/astro-web3/spacecat-auth/internal/infra/ims"
	"github.com/astro-web3/spacecat-auth/pkg/logger"
	"github.com/astro-web3/spacecat-auth/pkg/tracer"
)

// IMSClient is the part of the IMS client exposed over HTTP.
type IMSClient interface {
	GetImsOrganizationDetails(ctx context.Context, orgID string) (*ims.OrganizationDetails, error)
	GetImsUserProfile(ctx context.Context, userToken string) (*ims.UserProfile, error)
	ValidateAccessToken(ctx context.Context, token string) (map[string]any, error)
	ClearCache(ctx context.Context) error
}

type Handler struct {
	ims IMSClient
}

// NewHandler builds the route handlers. imsClient may be nil when IMS is not
// configured; the IMS routes then answer 503.
func NewHandler(imsClient IMSClient) *Handler {
	return &Handler{ims: imsClient}
}

func (h *Handler) Me(c *gin.Context) {
	info := auth.FromContext(c.Request.Context())
	c.JSON(http.StatusOK, info.View())
}

func (h *Handler) OrganizationAccess(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "transport.http.OrganizationAccess")
	defer span.End()

	orgID := c.Param("imsOrgId")
	subService := c.Query("subService")

	ok, err := access.FromContext(ctx).HasAccess(ctx, access.OrgID(orgID), subService)
	if err != nil {
		span.RecordError(err)
		logger.ErrorContext(ctx, "failed to check access", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	span.SetAttributes(attribute.Bool("access.granted", ok))
	c.JSON(http.StatusOK, gin.H{
		"imsOrgId":   orgID,
		"subService": subService,
		"hasAccess":  ok,
	})
}

func (h *Handler) OrganizationDetails(c *gin.Context) {
	if !h.imsConfigured(c) {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "transport.http.OrganizationDetails")
	defer span.End()

	details, err := h.ims.GetImsOrganizationDetails(ctx, c.Param("imsOrgId"))
	if err != nil {
		span.RecordError(err)
		h.imsError(ctx, c, err, false)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *Handler) Profile(c *gin.Context) {
	if !h.imsConfigured(c) {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "transport.http.Profile")
	defer span.End()

	token := auth.BearerToken(c.Request)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bearer token required"})
		return
	}

	profile, err := h.ims.GetImsUserProfile(ctx, token)
	if err != nil {
		span.RecordError(err)
		h.imsError(ctx, c, err, true)
		return
	}
	c.JSON(http.StatusOK, profile)
}

type validateTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (h *Handler) ValidateToken(c *gin.Context) {
	if !h.imsConfigured(c) {
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "transport.http.ValidateToken")
	defer span.End()

	var req validateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	payload, err := h.ims.ValidateAccessToken(ctx, req.Token)
	if err != nil {
		span.RecordError(err)
		h.imsError(ctx, c, err, false)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *Handler) imsConfigured(c *gin.Context) bool {
	if h.ims == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ims is not configured"})
		return false
	}
	return true
}

// imsError maps an IMS failure to a response. A 401 refers to the caller only
// when the request was made with the caller's token; otherwise the service
// credentials were refused and the cached service tokens are dropped.
func (h *Handler) imsError(ctx context.Context, c *gin.Context, err error, callerToken bool) {
	var statusErr *ims.StatusError
	switch {
	case errors.Is(err, ims.ErrNoProductContext):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &statusErr) && statusErr.Status == http.StatusUnauthorized && callerToken:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ims rejected the token"})
	case errors.As(err, &statusErr) && statusErr.Status == http.StatusUnauthorized:
		logger.ErrorContext(ctx, "ims rejected the service credentials", slog.String("error", err.Error()))
		if clearErr := h.ims.ClearCache(ctx); clearErr != nil {
			logger.WarnContext(ctx, "failed to clear ims token cache", slog.String("error", clearErr.Error()))
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "ims rejected the service credentials"})
	default:
		logger.ErrorContext(ctx, "ims request failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
