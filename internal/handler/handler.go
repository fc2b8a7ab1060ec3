package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"quote-tracker/internal/domain"
	"quote-tracker/internal/middleware"
	"quote-tracker/internal/service"
)

type Handlers struct {
	Auth         *AuthHandler
	Quote        *QuoteHandler
	Public       *PublicHandler
	Notification *NotificationHandler
	Dashboard    *DashboardHandler
	Export       *ExportHandler
}

func NewHandlers(services *service.Services, log zerolog.Logger) *Handlers {
	return &Handlers{
		Auth:         NewAuthHandler(services.Auth),
		Quote:        NewQuoteHandler(services.Quote, services.Watcher, log),
		Public:       NewPublicHandler(services.Quote),
		Notification: NewNotificationHandler(services.Notification),
		Dashboard:    NewDashboardHandler(services.Dashboard),
		Export:       NewExportHandler(services.Export),
	}
}

// SetupRoutes mounts the API under /api/v1.
func SetupRoutes(app *fiber.App, h *Handlers, services *service.Services) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := app.Group("/api/v1")

	public := v1.Group("/public/quotes")
	public.Get("/:token", h.Public.View)
	public.Post("/:token/sign", h.Public.Sign)
	public.Post("/:token/decline", h.Public.Decline)

	auth := v1.Group("/auth")
	auth.Post("/login", h.Auth.Login)
	auth.Post("/refresh", h.Auth.RefreshToken)
	auth.Post("/logout", h.Auth.Logout)

	protected := v1.Group("", middleware.AuthRequired(services.Auth))
	protected.Get("/auth/me", h.Auth.Me)
	protected.Get("/dashboard/stats", h.Dashboard.GetStats)

	quotes := protected.Group("/quotes")
	quotes.Get("/", h.Quote.List)
	quotes.Post("/", h.Quote.Create)
	quotes.Get("/:id", h.Quote.Get)
	quotes.Put("/:id", h.Quote.Update)
	quotes.Delete("/:id", middleware.RequireRole(domain.RoleAdmin), h.Quote.Delete)
	quotes.Post("/:id/send", h.Quote.Send)
	quotes.Post("/:id/trash", h.Quote.Trash)
	quotes.Post("/:id/restore", h.Quote.Restore)
	quotes.Put("/:id/pdf", h.Quote.UploadPDF)
	quotes.Get("/:id/events", h.Quote.Events)
	quotes.Get("/:id/events/stream", h.Quote.Stream)
	quotes.Get("/:id/summary", h.Quote.Summary)
	quotes.Get("/:id/export", h.Export.ExportQuote)
	quotes.Post("/:id/transitions", h.Quote.Transition)
	quotes.Post("/:id/reconcile", middleware.RequireRole(domain.RoleAdmin), h.Quote.Reconcile)

	notifications := protected.Group("/notifications")
	notifications.Get("/", h.Notification.List)
	notifications.Get("/unread-count", h.Notification.GetUnreadCount)
	notifications.Patch("/:id/read", h.Notification.MarkAsRead)
	notifications.Post("/mark-all-read", h.Notification.MarkAllAsRead)
}
