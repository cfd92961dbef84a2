package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"workshop-service/internal/gateway"
	"workshop-service/internal/models"
	"workshop-service/internal/redisclient"
	"workshop-service/internal/service"
	"workshop-service/internal/store"
	"workshop-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RegistrationInitiator interface {
	InitiateRegistration(ctx context.Context, req *service.InitiateRegistrationRequest) (*service.RegistrationResult, error)
}

type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, chargeID, statusHint string, workshopID int64) service.VerificationResult
}

type WebhookReconciler interface {
	HandleWebhook(ctx context.Context, charge *gateway.Charge) error
}

type WebhookSignatureVerifier interface {
	VerifyWebhook(charge *gateway.Charge, hashstring string) bool
}

type AvailabilityReader interface {
	Availability(ctx context.Context, workshopID int64) (*redisclient.SeatSnapshot, error)
}

type AdminOperations interface {
	CleanupFailed(ctx context.Context, workshopID int64) (int64, error)
	RecalculateSeats(ctx context.Context, workshopID int64) (int, error)
	RepairAll(ctx context.Context, workshopID int64) (*service.RepairReport, error)
}

type UpcomingCloser interface {
	CloseUpcoming(ctx context.Context, now time.Time) ([]int64, error)
}

type PaymentLogReader interface {
	ListPaymentLogsByPaymentID(ctx context.Context, paymentID string) ([]models.PaymentLogEntry, error)
}

// ReadinessCheck reports whether a dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Dependencies are the services the HTTP layer calls into
type Dependencies struct {
	Registrations RegistrationInitiator
	Verifier      PaymentVerifier
	Reconciler    WebhookReconciler
	Signatures    WebhookSignatureVerifier
	Seats         AvailabilityReader
	Admin         AdminOperations
	Closer        UpcomingCloser
	PaymentLogs   PaymentLogReader
	Readiness     map[string]ReadinessCheck
}

// Handler contains HTTP handlers
type Handler struct {
	deps      Dependencies
	jwtSecret []byte
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Dependencies, jwtSecret string) *Handler {
	return &Handler{
		deps:      deps,
		jwtSecret: []byte(jwtSecret),
		logger:    util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/payments/callback", h.paymentCallback)
		v1.POST("/payments/webhook", h.paymentWebhook)

		authed := v1.Group("", authMiddleware(h.jwtSecret))
		authed.GET("/workshops/:id/availability", h.getAvailability)
		authed.POST("/workshops/:id/registrations", h.createRegistration)

		admin := authed.Group("/admin", requireAdmin())
		admin.POST("/workshops/:id/cleanup", h.cleanupWorkshop)
		admin.POST("/workshops/:id/recalculate", h.recalculateWorkshop)
		admin.POST("/workshops/:id/repair", h.repairWorkshop)
		admin.POST("/workshops/close-upcoming", h.closeUpcoming)
		admin.GET("/payments/:charge_id/logs", h.paymentLogs)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports not ready while any dependency is unreachable
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.deps.Readiness {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func parseWorkshopID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid workshop ID",
		})
		return 0, false
	}
	return id, true
}

// statusForKind maps a registration error kind to an HTTP status
func statusForKind(kind service.ErrorKind) int {
	switch kind {
	case service.KindUnauthenticated:
		return http.StatusUnauthorized
	case service.KindWorkshopNotFound:
		return http.StatusNotFound
	case service.KindRegistrationClosed, service.KindDuplicateRegistration:
		return http.StatusConflict
	case service.KindPaymentInitiationFailed:
		return http.StatusBadGateway
	case service.KindMissingChargeID:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	var regErr *service.RegistrationError
	if errors.As(err, &regErr) {
		c.JSON(statusForKind(regErr.Kind), gin.H{
			"error":   regErr.Kind,
			"message": regErr.Message,
		})
		return
	}

	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   service.KindWorkshopNotFound,
			"message": service.MsgWorkshopNotFound,
		})
		return
	}

	h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Something went wrong, please try again",
	})
}

// registrationBody is the registration form
type registrationBody struct {
	service.ContactDetails
	IsRetry bool `json:"is_retry"`
}

// createRegistration handles workshop registration
func (h *Handler) createRegistration(c *gin.Context) {
	workshopID, ok := parseWorkshopID(c)
	if !ok {
		return
	}

	identity := identityFrom(c)

	var body registrationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		if identity == nil {
			h.respondError(c, &service.RegistrationError{
				Kind:    service.KindUnauthenticated,
				Message: service.MsgUnauthenticated,
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	req := &service.InitiateRegistrationRequest{
		WorkshopID: workshopID,
		Contact:    body.ContactDetails,
		IsRetry:    body.IsRetry,
	}
	if identity != nil {
		req.RegistrantID = identity.Subject
	}

	result, err := h.deps.Registrations.InitiateRegistration(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// getAvailability returns the seat snapshot of a workshop
func (h *Handler) getAvailability(c *gin.Context) {
	workshopID, ok := parseWorkshopID(c)
	if !ok {
		return
	}

	snap, err := h.deps.Seats.Availability(c.Request.Context(), workshopID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workshop_id":         workshopID,
		"available_seats":     snap.Available,
		"total_seats":         snap.Total,
		"registration_closed": snap.Closed,
	})
}

// paymentCallback verifies a charge after the hosted payment page redirects back
func (h *Handler) paymentCallback(c *gin.Context) {
	var workshopID int64
	if raw := c.Query("workshop_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid workshop ID",
			})
			return
		}
		workshopID = id
	}

	result := h.deps.Verifier.VerifyPayment(c.Request.Context(), c.Query("tap_id"), c.Query("status"), workshopID)

	status := http.StatusOK
	switch {
	case result.Kind == service.KindMissingChargeID:
		status = http.StatusBadRequest
	case result.State == service.VerificationError:
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}

// paymentWebhook applies a signed gateway charge notification
func (h *Handler) paymentWebhook(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Unreadable body"})
		return
	}

	var charge gateway.Charge
	if err := json.Unmarshal(raw, &charge); err != nil || charge.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid charge payload"})
		return
	}
	charge.Raw = raw

	if !h.deps.Signatures.VerifyWebhook(&charge, c.GetHeader("hashstring")) {
		h.logger.Warn("Webhook signature mismatch", zap.String("charge_id", charge.ID))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature", "message": "Signature mismatch"})
		return
	}

	if err := h.deps.Reconciler.HandleWebhook(c.Request.Context(), &charge); err != nil {
		h.logger.Error("Webhook processing failed", zap.String("charge_id", charge.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Webhook not processed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

func (h *Handler) cleanupWorkshop(c *gin.Context) {
	workshopID, ok := parseWorkshopID(c)
	if !ok {
		return
	}

	removed, err := h.deps.Admin.CleanupFailed(c.Request.Context(), workshopID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workshop_id": workshopID, "removed": removed})
}

func (h *Handler) recalculateWorkshop(c *gin.Context) {
	workshopID, ok := parseWorkshopID(c)
	if !ok {
		return
	}

	available, err := h.deps.Admin.RecalculateSeats(c.Request.Context(), workshopID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workshop_id": workshopID, "available_seats": available})
}

func (h *Handler) repairWorkshop(c *gin.Context) {
	workshopID, ok := parseWorkshopID(c)
	if !ok {
		return
	}

	report, err := h.deps.Admin.RepairAll(c.Request.Context(), workshopID)
	if err != nil {
		h.logger.Error("Workshop repair failed", zap.Int64("workshop_id", workshopID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "repair_incomplete",
			"message": err.Error(),
			"report":  report,
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) closeUpcoming(c *gin.Context) {
	closed, err := h.deps.Closer.CloseUpcoming(c.Request.Context(), time.Now())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if closed == nil {
		closed = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"closed": closed})
}

func (h *Handler) paymentLogs(c *gin.Context) {
	entries, err := h.deps.PaymentLogs.ListPaymentLogsByPaymentID(c.Request.Context(), c.Param("charge_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if entries == nil {
		entries = []models.PaymentLogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
