package service

import (
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"quote-tracker/internal/config"
	"quote-tracker/internal/lifecycle"
	"quote-tracker/internal/repository"
	"quote-tracker/internal/service/auth"
	"quote-tracker/internal/service/dashboard"
	"quote-tracker/internal/service/email"
	"quote-tracker/internal/service/export"
	"quote-tracker/internal/service/notification"
	"quote-tracker/internal/service/quote"
	"quote-tracker/internal/storage"
)

type Services struct {
	Auth         auth.Service
	Email        email.Service
	Quote        quote.Service
	Notification notification.Service
	Dashboard    dashboard.Service
	Export       export.Service
	Recorder     *lifecycle.Recorder
	Dispatcher   *notification.Dispatcher
	Watcher      repository.EventWatcher
}

// NewServices wires the services. redis may be nil: the summary cache is then
// disabled and first-notice claims are kept in process.
func NewServices(repos *repository.Repositories, redis *redis.Client, objects storage.ObjectStore, cfg *config.Config, log zerolog.Logger) *Services {
	emailService := email.NewService(cfg)
	authService := auth.NewService(repos.User, repos.Session, cfg)

	var claimer notification.Claimer = notification.NewMemoryClaimer()
	if redis != nil {
		claimer = notification.NewRedisClaimer(redis)
	}
	channels := []notification.Channel{
		notification.NewInboxChannel(repos.Notification, repos.User, "en"),
		notification.NewEmailChannel(repos.User, emailService, cfg.AdminEmails),
	}
	if cfg.ChatWebhookURL != "" {
		channels = append(channels, notification.NewWebhookChannel(cfg.ChatWebhookURL, cfg.NotifyTimeout))
	}
	dispatcher := notification.NewDispatcher(claimer, cfg.NotifyTimeout, log, channels...)

	summaryCache := quote.NewSummaryCache(redis)
	recorder := lifecycle.NewRecorder(repos.Quote, repos.Event, log, lifecycle.RecorderConfig{
		ReplayWindow: cfg.ReplayWindow,
	})
	recorder.SetNotifier(dispatcher)
	recorder.SetObserver(summaryCache)

	quoteService := quote.NewService(
		repos.Quote,
		repos.Event,
		recorder,
		authService,
		emailService,
		objects,
		summaryCache,
		cfg,
		log,
	)

	return &Services{
		Auth:         authService,
		Email:        emailService,
		Quote:        quoteService,
		Notification: notification.NewService(repos.Notification),
		Dashboard:    dashboard.NewService(repos.Quote, redis),
		Export:       export.NewService(quoteService),
		Recorder:     recorder,
		Dispatcher:   dispatcher,
		Watcher:      repos.Watcher,
	}
}
