package handler

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"quote-tracker/internal/service/export"
)

type ExportHandler struct {
	exportSvc export.Service
}

func NewExportHandler(exportSvc export.Service) *ExportHandler {
	return &ExportHandler{exportSvc: exportSvc}
}

// ExportQuote downloads the quote with its event log as a JSON attachment.
func (h *ExportHandler) ExportQuote(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id", "quote")
	if err != nil {
		return err
	}

	data, err := h.exportSvc.ExportQuote(c.UserContext(), id)
	if err != nil {
		return err
	}

	filename := fmt.Sprintf("quote_%s_%s.json", data.Quote.Number, time.Now().Format("20060102_150405"))
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s", filename))

	return c.Status(fiber.StatusOK).JSON(data)
}
