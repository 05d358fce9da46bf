// Package alert classifies change events, enforces the hourly quota and
// priority threshold, and delivers notifications.
package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/weomedia/compwatch/internal/monitor"
	"github.com/weomedia/compwatch/internal/snapshot"
)

// maxSendAttempts bounds transport retries: one initial attempt plus one
// retry on the next scheduler tick.
const maxSendAttempts = 2

// Config controls dispatch policy.
type Config struct {
	Threshold   monitor.Severity
	MaxPerHour  int
	Recipients  []string
	DedupWindow time.Duration
	Topic       string
}

// Dispatcher runs the per-event state machine:
// evaluated -> suppressed(threshold) | suppressed(quota) | queued -> sent | failed.
// Dispatch decisions are serialized so the quota counter increment is
// race-free even when many events arrive in one tick.
type Dispatcher struct {
	store     *snapshot.Store
	sender    monitor.EmailSender
	publisher monitor.Publisher
	hasher    monitor.Hasher
	clock     monitor.Clock
	ids       monitor.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Dispatcher. publisher may be nil to disable the event
// feed.
func New(
	store *snapshot.Store,
	sender monitor.EmailSender,
	publisher monitor.Publisher,
	hasher monitor.Hasher,
	clock monitor.Clock,
	ids monitor.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 7 * 24 * time.Hour
	}
	return &Dispatcher{
		store:     store,
		sender:    sender,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger.Named("alert"),
	}
}

// Dispatch evaluates the tick's events plus any transport-failed alerts
// parked by the previous tick. It returns every alert record it wrote.
func (d *Dispatcher) Dispatch(ctx context.Context, events []monitor.ChangeEvent) ([]monitor.Alert, error) {
	var out []monitor.Alert

	retries, err := d.store.TakePendingAlerts(ctx)
	if err != nil {
		return nil, err
	}
	for _, parked := range retries {
		alert, err := d.attemptSend(ctx, parked)
		if err != nil {
			return out, err
		}
		out = append(out, alert)
	}

	for _, event := range events {
		d.publishEvent(ctx, event)

		alert, skipped, err := d.evaluate(ctx, event)
		if err != nil {
			return out, err
		}
		if skipped {
			continue
		}
		out = append(out, alert)
	}
	return out, nil
}

// evaluate runs one event through dedup, threshold and quota. skipped is
// true when the event deduped against an already-sent alert and produced no
// record at all.
func (d *Dispatcher) evaluate(ctx context.Context, event monitor.ChangeEvent) (monitor.Alert, bool, error) {
	key, err := d.dedupKey(event)
	if err != nil {
		return monitor.Alert{}, false, err
	}
	alreadySent, err := d.store.AlertKeySentWithin(ctx, key, d.cfg.DedupWindow)
	if err != nil {
		return monitor.Alert{}, false, err
	}
	if alreadySent {
		// an unchanged event never re-queues, even with quota to spare
		d.logger.Debug("duplicate event skipped", zap.String("dedup_key", key))
		return monitor.Alert{}, true, nil
	}

	id, err := d.ids.NewID()
	if err != nil {
		return monitor.Alert{}, false, fmt.Errorf("generate alert id: %w", err)
	}
	alert := monitor.Alert{
		ID:        id,
		Event:     event,
		Priority:  event.Severity,
		CreatedAt: d.clock.Now(),
		Status:    monitor.AlertQueued,
	}

	// Page-1 ranking crossings always reach quota evaluation regardless of
	// the configured threshold.
	if event.Type != monitor.ChangeRankingMoved && !event.Severity.AtLeast(d.cfg.Threshold) {
		alert.Status = monitor.AlertSuppressed
		alert.Reason = monitor.SuppressedThreshold
		if err := d.record(ctx, alert, fmt.Sprintf(
			"%s event for %s below alert threshold", event.Type, event.CompetitorID)); err != nil {
			return monitor.Alert{}, false, err
		}
		return alert, false, nil
	}

	sent, err := d.attemptSend(ctx, alert)
	if err != nil {
		return monitor.Alert{}, false, err
	}
	return sent, false, nil
}

// attemptSend applies the quota and performs delivery. Suppressed(quota)
// alerts are recorded, never silently dropped, so operators can see missed
// alerts in the activity feed.
func (d *Dispatcher) attemptSend(ctx context.Context, alert monitor.Alert) (monitor.Alert, error) {
	now := d.clock.Now()
	hour := now.Truncate(time.Hour)

	count, err := d.store.QuotaCount(ctx, hour)
	if err != nil {
		return monitor.Alert{}, err
	}
	if count >= d.cfg.MaxPerHour {
		alert.Status = monitor.AlertSuppressed
		alert.Reason = monitor.SuppressedQuota
		if err := d.record(ctx, alert, fmt.Sprintf(
			"alert suppressed (hourly quota reached): %s", alert.Event.Summary)); err != nil {
			return monitor.Alert{}, err
		}
		return alert, nil
	}

	alert.Attempts++
	subject, body := renderEmail(alert.Event)
	if sendErr := d.sender.Send(ctx, d.cfg.Recipients, subject, body); sendErr != nil {
		d.logger.Warn("alert delivery failed",
			zap.String("alert_id", alert.ID),
			zap.Int("attempts", alert.Attempts),
			zap.Error(sendErr),
		)
		if alert.Attempts < maxSendAttempts {
			// retried once on the next scheduler tick, never within the
			// same cycle
			alert.Reason = "transport failure, retry pending"
			if err := d.store.PutPendingAlert(ctx, alert); err != nil {
				return monitor.Alert{}, err
			}
			if err := d.record(ctx, alert, fmt.Sprintf(
				"alert delivery failed, will retry: %s", alert.Event.Summary)); err != nil {
				return monitor.Alert{}, err
			}
			return alert, nil
		}
		alert.Status = monitor.AlertFailed
		alert.Reason = "transport failure"
		if err := d.record(ctx, alert, fmt.Sprintf(
			"alert abandoned after %d attempts: %s", alert.Attempts, alert.Event.Summary)); err != nil {
			return monitor.Alert{}, err
		}
		return alert, nil
	}

	if err := d.store.IncrementQuota(ctx, hour); err != nil {
		return monitor.Alert{}, err
	}
	dispatchedAt := now
	alert.Status = monitor.AlertSent
	alert.DispatchedAt = &dispatchedAt
	alert.Reason = ""

	key, err := d.dedupKey(alert.Event)
	if err != nil {
		return monitor.Alert{}, err
	}
	if err := d.store.MarkAlertKeySent(ctx, key, now); err != nil {
		return monitor.Alert{}, err
	}
	if err := d.record(ctx, alert, fmt.Sprintf("alert sent: %s", alert.Event.Summary)); err != nil {
		return monitor.Alert{}, err
	}
	return alert, nil
}

func (d *Dispatcher) record(ctx context.Context, alert monitor.Alert, activity string) error {
	if err := d.store.RecordAlert(ctx, alert); err != nil {
		return err
	}
	return d.store.AppendActivity(ctx, "alert", activity)
}

func (d *Dispatcher) publishEvent(ctx context.Context, event monitor.ChangeEvent) {
	if d.publisher == nil || d.cfg.Topic == "" {
		return
	}
	if _, err := d.publisher.Publish(ctx, d.cfg.Topic, event); err != nil {
		d.logger.Warn("event publish failed", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// dedupKey identifies an event by competitor, page, type and summary hash.
func (d *Dispatcher) dedupKey(event monitor.ChangeEvent) (string, error) {
	summaryHash, err := d.hasher.Hash([]byte(event.Summary))
	if err != nil {
		return "", fmt.Errorf("hash summary: %w", err)
	}
	return strings.Join([]string{event.CompetitorID, event.Page, string(event.Type), summaryHash}, "|"), nil
}

func renderEmail(event monitor.ChangeEvent) (subject, body string) {
	subject = fmt.Sprintf("[compwatch] %s: %s", strings.ToUpper(string(event.Severity)), event.Type)
	var b strings.Builder
	b.WriteString("Competitor: " + event.CompetitorID + "\n")
	if event.Page != "" {
		b.WriteString("Page: " + event.Page + "\n")
	}
	b.WriteString("Type: " + string(event.Type) + "\n")
	b.WriteString("Severity: " + string(event.Severity) + "\n")
	b.WriteString("Detected: " + event.DetectedAt.UTC().Format(time.RFC3339) + "\n\n")
	b.WriteString(event.Summary + "\n")
	return subject, b.String()
}
