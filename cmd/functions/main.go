package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quote-tracker/internal/bootstrap"
	"quote-tracker/internal/config"
)

// ReconcileRequest is the payload of a reconcile event. An empty QuoteID
// reconciles every quote, which is what the nightly scheduler sends.
type ReconcileRequest struct {
	QuoteID string `json:"quote_id"`
}

var (
	core    *bootstrap.App
	once    sync.Once
	initErr error
	log     zerolog.Logger
)

func init() {
	functions.CloudEvent("ReconcileQuote", reconcileQuote)
}

// main is required by the Go Functions Framework.
func main() {}

func reconcileQuote(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		cfg := config.Load()
		log = config.NewLogger(cfg, "functions")
		core, initErr = bootstrap.New(context.Background(), cfg, log)
	})
	if initErr != nil {
		log.Error().Err(initErr).Msg("function initialization failed")
		return initErr
	}

	id, err := quoteIDFromEvent(e)
	if err != nil {
		log.Error().Err(err).Str("event_id", e.ID()).Msg("invalid reconcile event")
		return err
	}

	quotes := core.Services.Quote
	if id == uuid.Nil {
		results, err := quotes.ReconcileAll(ctx)
		if err != nil {
			return err
		}
		changed := 0
		for _, r := range results {
			if r.Changed {
				changed++
			}
		}
		log.Info().Int("quotes", len(results)).Int("changed", changed).Msg("reconciled all quotes")
		return nil
	}

	rec, err := quotes.Reconcile(ctx, id)
	if err != nil {
		return err
	}
	log.Info().
		Str("quote_id", id.String()).
		Str("previous", string(rec.Previous)).
		Str("status", string(rec.Status)).
		Bool("changed", rec.Changed).
		Msg("reconciled quote")
	return nil
}

// quoteIDFromEvent reads the quote id from the event data, falling back to
// a "quotes/<id>" subject.
func quoteIDFromEvent(e cloudevents.Event) (uuid.UUID, error) {
	var req ReconcileRequest
	if data := e.Data(); len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return uuid.Nil, fmt.Errorf("json.Unmarshal: %w", err)
		}
	}
	if req.QuoteID == "" && strings.HasPrefix(e.Subject(), "quotes/") {
		req.QuoteID = strings.TrimPrefix(e.Subject(), "quotes/")
	}
	if req.QuoteID == "" {
		return uuid.Nil, nil
	}

	id, err := uuid.Parse(req.QuoteID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid quote id %q: %w", req.QuoteID, err)
	}
	return id, nil
}
