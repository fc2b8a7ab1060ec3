package handler

import (
	"github.com/gofiber/fiber/v2"

	"quote-tracker/internal/domain"
	"quote-tracker/internal/middleware"
	"quote-tracker/internal/service/quote"
)

// PublicHandler serves the client side of a quote link. The link token is
// the only credential.
type PublicHandler struct {
	quoteService quote.Service
}

func NewPublicHandler(quoteService quote.Service) *PublicHandler {
	return &PublicHandler{quoteService: quoteService}
}

func (h *PublicHandler) View(c *fiber.Ctx) error {
	view, err := h.quoteService.View(c.UserContext(), c.Params("token"), quote.Viewer{
		IP:        middleware.GetClientIP(c),
		UserAgent: middleware.GetUserAgent(c),
		Locale:    middleware.GetLocale(c),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(view)
}

func (h *PublicHandler) Sign(c *fiber.Ctx) error {
	var input domain.SignQuoteInput
	if err := c.BodyParser(&input); err != nil {
		return middleware.BadRequest("Invalid request body")
	}

	res, err := h.quoteService.Sign(c.UserContext(), c.Params("token"), input, c.Get(IdempotencyKeyHeader))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

func (h *PublicHandler) Decline(c *fiber.Ctx) error {
	var input domain.DeclineQuoteInput
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return middleware.BadRequest("Invalid request body")
		}
	}

	res, err := h.quoteService.Decline(c.UserContext(), c.Params("token"), input, c.Get(IdempotencyKeyHeader))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(res)
}
