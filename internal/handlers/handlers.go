// Path: internal/handlers/handlers.go
package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"bank-sca/internal/logging"
	"bank-sca/internal/metrics"
	"bank-sca/internal/models"
	"bank-sca/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handler struct {
	transactionService services.TransactionService
	authService        services.AuthService
	log                logging.Logger
}

func NewHandler(ts services.TransactionService, as services.AuthService, log logging.Logger) *Handler {
	return &Handler{
		transactionService: ts,
		authService:        as,
		log:                log.With("component", "http"),
	}
}

// RouteOptions controls the per-user limiter on the two boundary operations.
type RouteOptions struct {
	RateLimitEnabled  bool
	InitiatePerMinute int
	ExecutePerMinute  int
}

// Mount registers the API, health and metrics routes on app.
func (h *Handler) Mount(app *fiber.App, opts RouteOptions) {
	app.Use(h.RequestMetrics)
	app.Get("/health", h.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")
	protected := api.Group("/", h.AuthMiddleware)
	protected.Post("/transfers/initiate", h.rateLimit(opts.RateLimitEnabled, opts.InitiatePerMinute), h.InitiateTransfer)
	protected.Post("/transfers/execute", h.rateLimit(opts.RateLimitEnabled, opts.ExecutePerMinute), h.ExecuteTransfer)
	protected.Post("/transfers/:id/cancel", h.CancelTransfer)
}

type errorBody struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	Details           string `json:"details,omitempty"`
	RemainingAttempts int    `json:"remaining_attempts,omitempty"`
}

func (h *Handler) ErrorHandler(c *fiber.Ctx, err error) error {
	ctx := c.UserContext()

	var appErr *services.AppError
	if errors.As(err, &appErr) {
		if appErr.Code >= fiber.StatusInternalServerError {
			h.log.Error(ctx, "request failed", "path", c.Path(), "reason", appErr.Reason, "error", err)
			return c.Status(appErr.Code).JSON(errorBody{
				Error:   string(appErr.Reason),
				Message: appErr.Message,
			})
		}
		return c.Status(appErr.Code).JSON(errorBody{
			Error:             string(appErr.Reason),
			Message:           appErr.Message,
			Details:           appErr.Details,
			RemainingAttempts: appErr.RemainingAttempts,
		})
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(errorBody{
			Error:   strconv.Itoa(fiberErr.Code),
			Message: fiberErr.Message,
		})
	}

	h.log.Error(ctx, "unhandled error", "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(errorBody{
		Error:   string(services.ReasonInternal),
		Message: services.ErrInternal.Message,
	})
}

// RequestMetrics records request counts and latency per route. Errors are
// rendered here so the recorded status is the one the client sees.
func (h *Handler) RequestMetrics(c *fiber.Ctx) error {
	start := time.Now()
	if err := c.Next(); err != nil {
		if herr := h.ErrorHandler(c, err); herr != nil {
			return herr
		}
	}

	route := c.Route().Path
	status := strconv.Itoa(c.Response().StatusCode())
	metrics.HTTPRequests.WithLabelValues(c.Method(), route, status).Inc()
	metrics.HTTPDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
	return nil
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handler) rateLimit(enabled bool, perMinute int) fiber.Handler {
	if !enabled || perMinute <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        perMinute,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			if claims, ok := c.Locals("user").(*models.Claims); ok {
				return claims.UserID
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return services.ErrRateLimited
		},
	})
}

func (h *Handler) AuthMiddleware(c *fiber.Ctx) error {
	if c.Method() == fiber.MethodOptions {
		return c.Next()
	}

	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return services.ErrUnauthorized.WithDetails("Authorization header is empty", nil)
	}

	var token string
	if _, err := fmt.Sscanf(authHeader, "Bearer %s", &token); err != nil {
		return services.ErrUnauthorized.WithDetails("Invalid token format", err)
	}

	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		return err
	}

	c.Locals("user", claims)
	return c.Next()
}

func claimsFrom(c *fiber.Ctx) (*models.Claims, error) {
	claims, ok := c.Locals("user").(*models.Claims)
	if !ok {
		return nil, services.ErrUnauthorized.WithDetails("User claims were not of the expected type", nil)
	}
	return claims, nil
}

func (h *Handler) InitiateTransfer(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	var req models.InitiateTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request format")
	}

	intent := models.TransferIntent{
		SourceAccountID: req.SourceAccountID,
		Amount:          req.Amount,
		Reference:       req.Reference,
		Channel:         models.ChallengeKind(req.Channel),
	}
	descriptor := req.ToAccountID
	if req.Type == models.TransferExternal {
		descriptor = req.RecipientAccountNumber
	}
	// An unknown kind leaves Recipient nil and is rejected by the service
	// after the amount check.
	if recipient, err := models.NewRecipient(req.Type, descriptor); err == nil {
		intent.Recipient = recipient
	}

	resp, err := h.transactionService.InitiateTransfer(c.UserContext(), claims.UserID, intent)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *Handler) ExecuteTransfer(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	var req models.ExecuteTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request format")
	}

	if err := h.transactionService.ExecuteTransfer(c.UserContext(), claims.UserID, req.TransactionID, req.ChallengeID, req.Code); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *Handler) CancelTransfer(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	if err := h.transactionService.CancelTransfer(c.UserContext(), claims.UserID, c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}
