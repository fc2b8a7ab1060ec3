package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"quote-tracker/internal/domain"
)

const defaultTimeout = 5 * time.Second

// Channel delivers a notice to one audience (email, chat, inbox).
type Channel interface {
	Name() string
	Send(ctx context.Context, notice domain.Notice) error
}

// Claimer records that a notice for (quote, kind) went out. Claim reports
// false when an earlier notice already claimed it.
type Claimer interface {
	Claim(ctx context.Context, notice domain.Notice) (bool, error)
}

// Dispatcher fans notices out to its channels in the background. Notify never
// blocks the caller and failures are only logged.
type Dispatcher struct {
	claimer  Claimer
	channels []Channel
	timeout  time.Duration
	log      zerolog.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(claimer Claimer, timeout time.Duration, log zerolog.Logger, channels ...Channel) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{
		claimer:  claimer,
		channels: channels,
		timeout:  timeout,
		log:      log.With().Str("component", "notifications").Logger(),
	}
}

func (d *Dispatcher) Notify(_ context.Context, notice domain.Notice) {
	if len(d.channels) == 0 {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error().Str("quote_id", notice.QuoteID.String()).Interface("panic", r).Msg("notification panic")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.dispatch(ctx, notice)
	}()
}

// Wait blocks until in-flight notices are done. Used on shutdown and in tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, notice domain.Notice) {
	logger := d.log.With().
		Str("quote_id", notice.QuoteID.String()).
		Str("event_id", notice.EventID.String()).
		Str("kind", string(notice.Kind)).
		Logger()

	if d.claimer != nil {
		claimed, err := d.claimer.Claim(ctx, notice)
		if err != nil {
			logger.Warn().Err(err).Msg("notice claim failed, sending anyway")
		} else if !claimed {
			logger.Debug().Msg("notice already sent")
			return
		}
	}

	var g errgroup.Group
	g.SetLimit(len(d.channels))
	for _, ch := range d.channels {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Str("channel", ch.Name()).Interface("panic", r).Msg("notification channel panic")
				}
			}()
			if err := ch.Send(ctx, notice); err != nil {
				logger.Error().Err(err).Str("channel", ch.Name()).Msg("failed to deliver notice")
			}
			return nil
		})
	}
	_ = g.Wait()
}
