package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stormwaterwatch/sww-backend/internal/observability"
	"github.com/stormwaterwatch/sww-backend/internal/subscriptions"
	"github.com/stormwaterwatch/sww-backend/internal/violations"
)

// EmailSender delivers a batch by email and returns the provider message id.
type EmailSender interface {
	Send(ctx context.Context, b Batch) (string, error)
}

// SlackSender delivers a batch to Slack.
type SlackSender interface {
	Send(ctx context.Context, b Batch) error
}

var (
	errEmailUnconfigured = errors.New("RESEND_API_KEY not configured")
	errSlackUnconfigured = errors.New("SLACK_WEBHOOK_URL not configured")
	errNoDelivery        = errors.New("no alert channel succeeded")
)

// Lookback is how far back a subscription that has never run looks for
// violations.
func Lookback(s subscriptions.Schedule) time.Duration {
	if s == subscriptions.ScheduleWeekly {
		return 30 * 24 * time.Hour
	}
	return 7 * 24 * time.Hour
}

// RunResult summarises one scheduled pass.
type RunResult struct {
	SubscriptionsProcessed int      `json:"subscriptionsProcessed"`
	AlertsSent             int      `json:"alertsSent"`
	Errors                 []string `json:"errors"`
}

type Dispatcher struct {
	store   Store
	email   EmailSender
	slack   SlackSender
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewDispatcher wires the senders. A nil sender marks its channel as
// unconfigured.
func NewDispatcher(store Store, email EmailSender, slack SlackSender, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		store:   store,
		email:   email,
		slack:   slack,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// outcome is what happened to one subscription in a pass.
type outcome struct {
	matched   int
	delivered bool
	errs      []string
}

// Run processes every active subscription on schedule. Per-subscription
// failures are collected in the result and never stop the pass.
func (d *Dispatcher) Run(ctx context.Context, schedule subscriptions.Schedule) (RunResult, error) {
	res := RunResult{Errors: []string{}}

	subs, err := d.store.ActiveSubscriptions(ctx, schedule)
	if err != nil {
		return res, fmt.Errorf("loading %s subscriptions: %w", strings.ToLower(string(schedule)), err)
	}
	d.logger.Info("processing subscriptions", "schedule", schedule, "count", len(subs))

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, err.Error())
			break
		}
		out, err := d.process(ctx, sub)
		if err != nil {
			d.logger.Error("subscription failed", "subscription_id", sub.ID, "name", sub.Name, "error", err)
			res.Errors = append(res.Errors, fmt.Sprintf("Subscription %s: %v", sub.Name, err))
			continue
		}
		res.Errors = append(res.Errors, out.errs...)
		if out.delivered {
			res.SubscriptionsProcessed++
			res.AlertsSent++
		}
	}

	d.logger.Info("alert pass complete",
		"schedule", schedule,
		"processed", res.SubscriptionsProcessed,
		"alerts_sent", res.AlertsSent,
		"errors", len(res.Errors),
	)
	return res, nil
}

// RunSubscription delivers pending alerts for one subscription immediately
// and returns how many violations were sent.
func (d *Dispatcher) RunSubscription(ctx context.Context, sub subscriptions.Subscription) (int, error) {
	out, err := d.process(ctx, sub)
	if err != nil {
		return 0, err
	}
	if out.matched > 0 && !out.delivered {
		return 0, fmt.Errorf("%w: %s", errNoDelivery, strings.Join(out.errs, "; "))
	}
	return out.matched, nil
}

func (d *Dispatcher) process(ctx context.Context, sub subscriptions.Subscription) (outcome, error) {
	now := d.clock.Now()
	since := now.Add(-Lookback(sub.Schedule))
	if sub.LastRunAt != nil {
		since = *sub.LastRunAt
	}

	candidates, err := d.store.CandidateViolations(ctx, CandidateQuery{
		Since:        since,
		MinRatio:     sub.MinRatio,
		MinCount:     sub.RepeatOffenderThreshold,
		ImpairedOnly: sub.ImpairedOnly,
	})
	if err != nil {
		return outcome{}, fmt.Errorf("loading candidate violations: %w", err)
	}

	var matched []violations.ViolationEvent
	for _, v := range candidates {
		if v.Facility == nil {
			continue
		}
		if subscriptions.Match(sub, v, *v.Facility).Matched {
			matched = append(matched, v)
		}
	}
	d.logger.Debug("matched violations", "subscription_id", sub.ID, "candidates", len(candidates), "matched", len(matched))

	if len(matched) == 0 {
		if err := d.store.MarkRun(ctx, sub.ID, now); err != nil {
			return outcome{}, fmt.Errorf("updating last run: %w", err)
		}
		return outcome{}, nil
	}

	batch := Batch{
		SubscriptionName: sub.Name,
		Violations:       matched,
		LastRunAt:        sub.LastRunAt,
	}
	out := outcome{matched: len(matched)}

	if sub.Delivery.WantsEmail() {
		if err := d.sendEmail(ctx, sub, batch); err != nil {
			out.errs = append(out.errs, fmt.Sprintf("Email alert failed for %s: %v", sub.Name, err))
		} else {
			out.delivered = true
		}
	}
	if sub.Delivery.WantsSlack() {
		if err := d.sendSlack(ctx, batch); err != nil {
			out.errs = append(out.errs, fmt.Sprintf("Slack alert failed for %s: %v", sub.Name, err))
		} else {
			out.delivered = true
		}
	}

	// Leave last run untouched so the next pass retries the same window.
	if !out.delivered {
		return out, nil
	}

	payload := Payload{SubscriptionName: sub.Name, ViolationCount: len(matched), SentAt: now}
	if err := d.store.RecordDelivery(ctx, sub.ID, matched, payload); err != nil {
		return out, fmt.Errorf("recording alerts: %w", err)
	}
	return out, nil
}

func (d *Dispatcher) sendEmail(ctx context.Context, sub subscriptions.Subscription, b Batch) error {
	if d.email == nil {
		d.record("email", errEmailUnconfigured)
		return errEmailUnconfigured
	}
	to, name, err := d.store.Recipient(ctx, sub.UserID)
	if err != nil {
		err = fmt.Errorf("looking up recipient: %w", err)
		d.record("email", err)
		return err
	}
	b.To, b.ToName = to, name

	id, err := d.email.Send(ctx, b)
	d.record("email", err)
	if err == nil {
		d.logger.Info("email alert sent", "subscription_id", sub.ID, "violations", len(b.Violations), "message_id", id)
	}
	return err
}

func (d *Dispatcher) sendSlack(ctx context.Context, b Batch) error {
	if d.slack == nil {
		d.record("slack", errSlackUnconfigured)
		return errSlackUnconfigured
	}
	err := d.slack.Send(ctx, b)
	d.record("slack", err)
	if err == nil {
		d.logger.Info("slack alert sent", "subscription", b.SubscriptionName, "violations", len(b.Violations))
	}
	return err
}

func (d *Dispatcher) record(channel string, err error) {
	if d.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	d.metrics.AlertsSent.WithLabelValues(channel, result).Inc()
}
