package alerts

import (
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/stormwaterwatch/sww-backend/internal/config"
	"github.com/stormwaterwatch/sww-backend/internal/db"
	"github.com/stormwaterwatch/sww-backend/internal/observability"
)

var (
	store  Store = GormStore{}
	logger       = slog.Default()
)

// Init migrates the alert table and builds the dispatcher and the Slack
// client used for operational errors. Subscriptions must be initialised first.
func Init(cfg *config.Config, log *slog.Logger, metrics *observability.Metrics) (*Dispatcher, *SlackClient, error) {
	if err := db.DB.AutoMigrate(&Alert{}); err != nil {
		return nil, nil, fmt.Errorf("auto-migrate alerts: %w", err)
	}
	store = GormStore{DB: db.DB}
	logger = log

	var email EmailSender
	if c := NewEmailClient(cfg.ResendAPIKey, cfg.AlertFromEmail, cfg.AppBaseURL); c != nil {
		email = c
	} else {
		log.Warn("RESEND_API_KEY not configured, email alerts disabled")
	}
	slackClient := NewSlackClient(cfg.SlackWebhookURL, cfg.AppBaseURL)
	var slack SlackSender
	if slackClient != nil {
		slack = slackClient
	} else {
		log.Warn("SLACK_WEBHOOK_URL not configured, Slack alerts disabled")
	}

	return NewDispatcher(store, email, slack, clockwork.NewRealClock(), log, metrics), slackClient, nil
}
