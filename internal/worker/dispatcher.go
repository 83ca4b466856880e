package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/provider"
	"github.com/jwalitptl/crm-api/internal/repository"
	"github.com/jwalitptl/crm-api/pkg/logger"
	"github.com/jwalitptl/crm-api/pkg/messaging"
	"github.com/jwalitptl/crm-api/pkg/metrics"
)

type DispatcherConfig struct {
	BatchSize          int
	PollInterval       time.Duration
	MaxRetries         int
	DefaultCountryCode string
	// SendsPerSecond throttles provider calls. Zero disables the limit.
	SendsPerSecond   float64
	TemplateCacheTTL time.Duration
}

// SenderSource hands out the provider sender for a channel.
type SenderSource interface {
	For(channel model.Channel) (provider.Sender, error)
}

// CycleStats counts what happened to the messages claimed in one cycle.
type CycleStats struct {
	Claimed  int
	Sent     int
	Failed   int
	Released int
}

type Dispatcher struct {
	store     repository.Store
	senders   SenderSource
	publisher messaging.Publisher
	config    DispatcherConfig
	limiter   *rate.Limiter
	templates *cache.Cache
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Dispatcher)

func WithPublisher(p messaging.Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(
	store repository.Store,
	senders SenderSource,
	config DispatcherConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
	opts ...Option,
) *Dispatcher {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		panic("MaxRetries must be greater than 0")
	}
	if config.TemplateCacheTTL <= 0 {
		config.TemplateCacheTTL = 5 * time.Minute
	}

	d := &Dispatcher{
		store:     store,
		senders:   senders,
		publisher: messaging.NewEventPublisher(nil, "", logger, metrics),
		config:    config,
		templates: cache.New(config.TemplateCacheTTL, 2*config.TemplateCacheTTL),
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
	if config.SendsPerSecond > 0 {
		burst := int(config.SendsPerSecond)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(config.SendsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs a cycle immediately and then once per poll interval until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	d.logger.Info("Starting dispatch worker",
		"batch_size", d.config.BatchSize,
		"poll_interval", d.config.PollInterval.String(),
		"max_retries", d.config.MaxRetries)

	for {
		if _, err := d.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error(err, "Dispatch cycle aborted")
		}
		select {
		case <-ctx.Done():
			d.logger.Info("Shutting down dispatch worker")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch and processes it. A configuration error or a cancelled
// context stops the cycle and hands the unprocessed claims back to the queue.
func (d *Dispatcher) RunOnce(ctx context.Context) (CycleStats, error) {
	timer := prometheus.NewTimer(d.metrics.DispatchLatency)
	defer timer.ObserveDuration()

	var stats CycleStats
	claimed, err := d.store.Messages().ClaimBatch(ctx, d.config.BatchSize, d.config.MaxRetries, d.now())
	if err != nil {
		d.metrics.DatabaseOperations.WithLabelValues("claim_batch", "error").Inc()
		// rows claimed before the error are still ours
		stats.Released = d.release(ctx, claimed)
		return stats, fmt.Errorf("failed to claim messages: %w", err)
	}
	d.metrics.DatabaseOperations.WithLabelValues("claim_batch", "success").Inc()
	stats.Claimed = len(claimed)

	for i, msg := range claimed {
		d.metrics.MessagesClaimed.WithLabelValues(string(msg.Channel)).Inc()

		if err := ctx.Err(); err != nil {
			stats.Released = d.release(ctx, claimed[i:])
			return stats, err
		}

		sendErr := d.dispatch(ctx, msg)
		if sendErr == nil {
			stats.Sent++
			continue
		}

		stats.Failed++
		d.fail(ctx, msg, sendErr)

		if provider.IsConfigError(sendErr) {
			stats.Released = d.release(ctx, claimed[i+1:])
			return stats, fmt.Errorf("provider misconfigured: %w", sendErr)
		}
	}

	if stats.Claimed > 0 {
		d.logger.Debug("Dispatch cycle finished",
			"claimed", stats.Claimed,
			"sent", stats.Sent,
			"failed", stats.Failed)
	}
	return stats, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, msg *model.OutboundMessage) error {
	customer, err := d.store.Customers().Get(ctx, msg.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to load customer %s: %w", msg.CustomerID, err)
	}
	if !customer.CanContact {
		return provider.ErrContactDisabled
	}

	to := customer.Address(msg.Channel)
	if msg.Channel.UsesPhone() {
		to = provider.NormalizePhone(to, d.config.DefaultCountryCode)
	}
	if to == "" {
		return provider.ErrMissingAddress
	}

	content, err := d.content(ctx, msg)
	if err != nil {
		return err
	}

	sender, err := d.senders.For(msg.Channel)
	if err != nil {
		return err
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	providerID, err := sender.Send(ctx, to, content)
	d.metrics.ProviderSendLatency.WithLabelValues(string(msg.Channel)).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	now := d.now().UTC()
	err = d.store.WithTx(ctx, func(tx repository.Store) error {
		interaction := &model.Interaction{
			ID:                uuid.New(),
			OwnerID:           msg.OwnerID,
			CustomerID:        msg.CustomerID,
			Channel:           msg.Channel,
			Direction:         model.DirectionOutbound,
			OccurredAt:        now,
			Content:           content.Text(),
			ProviderMessageID: &providerID,
			CreatedAt:         now,
		}
		if subject := content.RenderedSubject(); subject != "" {
			interaction.Subject = &subject
		}
		if err := tx.Interactions().Create(ctx, interaction); err != nil {
			return err
		}
		return tx.Messages().MarkSent(ctx, msg.ID, providerID, now)
	})
	if err != nil {
		d.metrics.DatabaseOperations.WithLabelValues("mark_sent", "error").Inc()
		return fmt.Errorf("failed to record sent message (provider id %s): %w", providerID, err)
	}

	d.metrics.MessagesSent.WithLabelValues(string(msg.Channel)).Inc()
	d.publish(ctx, model.EventMessageSent, msg, map[string]interface{}{"provider_message_id": providerID})
	return nil
}

// content resolves the template or literal body of msg. Templates are cached by id.
func (d *Dispatcher) content(ctx context.Context, msg *model.OutboundMessage) (provider.Content, error) {
	vars := map[string]interface{}(msg.Variables)
	if msg.TemplateID == nil {
		if msg.Body == nil {
			return provider.Content{}, fmt.Errorf("message %s has neither template nor body", msg.ID)
		}
		return provider.Content{Body: *msg.Body, Variables: vars}, nil
	}

	tpl, err := d.template(ctx, *msg.TemplateID)
	if err != nil {
		return provider.Content{}, err
	}
	content := provider.Content{Body: tpl.Body, Variables: vars}
	if tpl.Subject != nil {
		content.Subject = *tpl.Subject
	}
	if tpl.ProviderTemplateID != nil {
		content.ProviderTemplateID = *tpl.ProviderTemplateID
	}
	return content, nil
}

func (d *Dispatcher) template(ctx context.Context, id uuid.UUID) (*model.Template, error) {
	key := id.String()
	if v, ok := d.templates.Get(key); ok {
		return v.(*model.Template), nil
	}
	tpl, err := d.store.Templates().Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("template %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", id, err)
	}
	d.templates.SetDefault(key, tpl)
	return tpl, nil
}

// fail records a failed attempt. Bookkeeping survives a cancelled ctx so the row
// does not stay in sending.
func (d *Dispatcher) fail(ctx context.Context, msg *model.OutboundMessage, sendErr error) {
	reason := failureReason(sendErr)
	d.metrics.MessagesFailed.WithLabelValues(string(msg.Channel), reason).Inc()
	d.logger.Error(sendErr, "Failed to dispatch message",
		"message_id", msg.ID.String(),
		"channel", string(msg.Channel),
		"attempt", msg.RetryCount+1)

	bg := context.WithoutCancel(ctx)
	if err := d.store.Messages().MarkFailed(bg, msg.ID, sendErr.Error(), d.now()); err != nil {
		d.metrics.DatabaseOperations.WithLabelValues("mark_failed", "error").Inc()
		d.logger.Error(err, "Failed to mark message failed", "message_id", msg.ID.String())
		return
	}
	d.publish(bg, model.EventMessageFailed, msg, map[string]interface{}{
		"error":       sendErr.Error(),
		"retry_count": msg.RetryCount + 1,
	})
}

func (d *Dispatcher) release(ctx context.Context, msgs []*model.OutboundMessage) int {
	if len(msgs) == 0 {
		return 0
	}
	ids := make([]uuid.UUID, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	n, err := d.store.Messages().ReleaseClaims(context.WithoutCancel(ctx), ids, d.now())
	if err != nil {
		d.logger.Error(err, "Failed to release claimed messages", "count", len(ids))
		return 0
	}
	d.metrics.MessagesReleased.Add(float64(n))
	d.logger.Warn("Released claimed messages", "count", n)
	return int(n)
}

func (d *Dispatcher) publish(ctx context.Context, eventType string, msg *model.OutboundMessage, data map[string]interface{}) {
	id := msg.ID
	_ = d.publisher.Publish(ctx, eventType, model.LifecycleEvent{
		Type:       eventType,
		OwnerID:    msg.OwnerID,
		CustomerID: msg.CustomerID,
		MessageID:  &id,
		Channel:    msg.Channel,
		OccurredAt: d.now().UTC(),
		Data:       data,
	})
}

func failureReason(err error) string {
	var providerErr *provider.ProviderError
	switch {
	case errors.Is(err, provider.ErrContactDisabled):
		return "contact_disabled"
	case errors.Is(err, provider.ErrMissingAddress):
		return "missing_address"
	case provider.IsConfigError(err):
		return "config"
	case errors.As(err, &providerErr):
		return "provider"
	default:
		return "other"
	}
}
