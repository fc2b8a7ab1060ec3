package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"quote-tracker/internal/domain"
	"quote-tracker/internal/middleware"
	"quote-tracker/internal/repository"
	"quote-tracker/internal/service/quote"
)

const (
	maxPDFSize      = 20 << 20
	streamHeartbeat = 25 * time.Second
)

type QuoteHandler struct {
	quoteService quote.Service
	watcher      repository.EventWatcher
	log          zerolog.Logger
}

func NewQuoteHandler(quoteService quote.Service, watcher repository.EventWatcher, log zerolog.Logger) *QuoteHandler {
	return &QuoteHandler{quoteService: quoteService, watcher: watcher, log: log}
}

func (h *QuoteHandler) List(c *fiber.Ctx) error {
	var filter domain.QuoteFilter
	if s := c.Query("status"); s != "" {
		status, ok := domain.ParseStatus(s)
		if !ok {
			return middleware.BadRequest("Invalid status filter")
		}
		filter.Status = &status
	}
	switch c.Query("trashed") {
	case "only":
		filter.TrashedOnly = true
	case "include":
		filter.IncludeTrashed = true
	}

	result, err := h.quoteService.List(c.UserContext(), filter, getPaginationParams(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *QuoteHandler) Create(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var input domain.CreateQuoteInput
	if err := c.BodyParser(&input); err != nil {
		return middleware.BadRequest("Invalid request body")
	}

	q, err := h.quoteService.Create(c.UserContext(), user, input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(q)
}

func (h *QuoteHandler) Get(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id", "quote")
	if err != nil {
		return err
	}

	q, err := h.quoteService.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(q)
}

func (h *QuoteHandler) Update(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id", "quote")
	if err != nil {
		return err
	}

	var input domain.UpdateQuoteInput
	if err := c.BodyParser(&input); err != nil {
		return middleware.BadRequest("Invalid request body")
	}

	q, err := h.quoteService.Update(c.UserContext(), id, input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(q)
}

func (h *QuoteHandler) Send(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := parseIDParam(c, "id", "quote")
	if err != nil {
		return err
	}

	res, err := h.quoteService.Send(c.UserContext(), id, user, c.Get(IdempotencyKeyHeader))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

func (h *QuoteHandler) Trash(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id", "quote")
	if err != nil {
		return err
	}

	if err := h.quoteService.Trash(c.UserContext(), id); err != nil {
		return err
	}
	return c.Status(fiber.StatusNoContent).SendString("")
}

func (h *QuoteHandler) Restore(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id", "quote")
	if err != nil {
		return err
	}

	if err := h.quoteService.Restore(c.UserContext(), id); err != nil {
		return err
	}
	return c.Status(fiber.StatusNoContent).SendString("")
}

func (h *QuoteHandler) Delete(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id", "quote")
	if err != nil {
		return err
	}

	if err := h.quoteService.Delete(c.UserContext(), id); err != nil {
		return err
	}
	return c.Status(fiber.StatusNoContent).SendString("")
}

// UploadPDF accepts a multipart "file" field or a raw application/pdf body.
func (h *QuoteHandler) UploadPDF(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id", "quote")
	if err != nil {
		return err
	}

	var data []byte
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		file, err := c.FormFile("file")
		if err != nil {
			return middleware.BadRequest("File is required")
		}
		if file.Size > maxPDFSize {
			return middleware.BadRequest("File size must be less than 20MB")
		}
		f, err := file.Open()
		if err != nil {
			return middleware.BadRequest("Could not read uploaded file")
		}
		defer f.Close()
		if data, err = io.ReadAll(io.LimitReader(f, maxPDFSize)); err != nil {
			return middleware.BadRequest("Could not read uploaded file")
		}
	} else {
		data = c.Body()
		if len(data) > maxPDFSize {
			return middleware.BadRequest("File size must be less than 20MB")
		}
	}
	if len(data) == 0 {
		return middleware.BadRequest("File is required")
	}

	q, err := h.quoteService.AttachPDF(c.UserContext(), id, data)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(q)
}

func (h *QuoteHandler) Events(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id", "quote")
	if err != nil {
		return err
	}

	events, err := h.quoteService.Events(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": events})
}

func (h *QuoteHandler) Summary(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id", "quote")
	if err != nil {
		return err
	}

	summary, err := h.quoteService.StatusSummary(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(summary)
}

func (h *QuoteHandler) Transition(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := parseIDParam(c, "id", "quote")
	if err != nil {
		return err
	}

	var input domain.TransitionInput
	if err := c.BodyParser(&input); err != nil {
		return middleware.BadRequest("Invalid request body")
	}
	if input.IdempotencyKey == "" {
		input.IdempotencyKey = c.Get(IdempotencyKeyHeader)
	}

	res, err := h.quoteService.Transition(c.UserContext(), id, input, user)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

func (h *QuoteHandler) Reconcile(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id", "quote")
	if err != nil {
		return err
	}

	rec, err := h.quoteService.Reconcile(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(rec)
}

// Stream pushes the quote's events as server-sent events, starting with the
// events already recorded.
func (h *QuoteHandler) Stream(c *fiber.Ctx) error {
	if h.watcher == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "Live updates are not available")
	}
	id, err := parseIDParam(c, "id", "quote")
	if err != nil {
		return err
	}
	if _, err := h.quoteService.Get(c.UserContext(), id); err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	// The stream outlives the handler, so it cannot use the request context.
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan domain.Event, 16)
	go func() {
		defer close(events)
		err := h.watcher.Watch(ctx, id, func(ev domain.Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
		if err != nil {
			h.log.Warn().Err(err).Str("quote_id", id.String()).Msg("event watch ended")
		}
	}()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Kind, data)
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}
