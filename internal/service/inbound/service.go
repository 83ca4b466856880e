package inbound

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/config"
	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/provider"
	"github.com/jwalitptl/crm-api/internal/repository"
	"github.com/jwalitptl/crm-api/internal/service/automation"
	"github.com/jwalitptl/crm-api/pkg/logger"
	"github.com/jwalitptl/crm-api/pkg/messaging"
	"github.com/jwalitptl/crm-api/pkg/metrics"
)

var (
	ErrMissingSender = errors.New("inbound message has no sender address")
	ErrNoOwner       = errors.New("no user exists to own new customers")
)

// Message is a normalised inbound reply.
type Message struct {
	Channel           model.Channel
	From              string
	Body              string
	ProviderMessageID string
	ProfileName       string
	ReceivedAt        time.Time
}

type Result struct {
	CustomerID           uuid.UUID   `json:"customer_id"`
	IsNewCustomer        bool        `json:"is_new_customer"`
	Cancelled            int64       `json:"cancelled"`
	InteractionID        uuid.UUID   `json:"interaction_id"`
	AutomationMessageIDs []uuid.UUID `json:"automation_message_ids"`
}

type Config struct {
	// DefaultOwnerID owns customers created from unknown senders. When nil the
	// most recently created user is used.
	DefaultOwnerID     uuid.UUID
	DefaultCountryCode string
}

type EventHandler interface {
	HandleEvent(ctx context.Context, ownerID uuid.UUID, event string, customerID uuid.UUID, evalCtx map[string]interface{}) (*automation.Result, error)
}

type Service struct {
	store      repository.Store
	automation EventHandler
	publisher  messaging.Publisher
	cfg        Config
	log        *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewService(store repository.Store, automation EventHandler, publisher messaging.Publisher, cfg Config, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:      store,
		automation: automation,
		publisher:  publisher,
		cfg:        cfg,
		log:        log,
		metrics:    m,
		now:        time.Now,
	}
}

// HandleInbound records a reply and runs the message.received automations.
// Customer resolution, cancellation of cancel_on_inbound messages, the interaction
// and tagging commit together. Automation runs in its own transaction afterwards
// and its failure does not undo the recorded reply.
func (s *Service) HandleInbound(ctx context.Context, rules config.InboundRules, msg Message) (*Result, error) {
	if msg.Channel == "" {
		msg.Channel = model.ChannelWhatsApp
	}
	phone := provider.NormalizePhone(msg.From, s.cfg.DefaultCountryCode)
	if phone == "" {
		return nil, ErrMissingSender
	}
	now := s.now().UTC()
	occurredAt := msg.ReceivedAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	var (
		result   = &Result{}
		customer *model.Customer
	)
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		customer, result.IsNewCustomer, err = s.resolveCustomer(ctx, tx, rules, phone, msg.ProfileName, now)
		if err != nil {
			return err
		}
		result.CustomerID = customer.ID

		result.Cancelled, err = tx.Messages().CancelOnInbound(ctx, customer.ID, now)
		if err != nil {
			return err
		}

		interaction := &model.Interaction{
			ID:         uuid.New(),
			OwnerID:    customer.OwnerID,
			CustomerID: customer.ID,
			Channel:    msg.Channel,
			Direction:  model.DirectionInbound,
			OccurredAt: occurredAt.UTC(),
			Content:    msg.Body,
			CreatedAt:  now,
		}
		if msg.ProviderMessageID != "" {
			pid := msg.ProviderMessageID
			interaction.ProviderMessageID = &pid
		}
		if err := tx.Interactions().Create(ctx, interaction); err != nil {
			return err
		}
		result.InteractionID = interaction.ID

		for _, tag := range tagsFor(rules, msg.Body, result.IsNewCustomer) {
			if err := tx.Tags().AddToCustomer(ctx, customer.OwnerID, customer.ID, tag, ""); err != nil {
				return err
			}
		}

		if customer.Stage == model.StageNew {
			if err := tx.Customers().UpdateStage(ctx, customer.ID, model.StageEngaged, now); err != nil {
				return err
			}
		}

		customer, err = tx.Customers().Get(ctx, customer.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record inbound message: %w", err)
	}

	label := "existing"
	if result.IsNewCustomer {
		label = "new"
	}
	s.metrics.InboundReceived.WithLabelValues(string(msg.Channel), label).Inc()
	if result.Cancelled > 0 {
		s.metrics.MessagesCancelled.Add(float64(result.Cancelled))
		s.log.Info("Cancelled pending messages on reply", "customer_id", customer.ID, "count", result.Cancelled)
	}

	evalCtx := eventContext(msg, customer, result.IsNewCustomer)
	res, err := s.automation.HandleEvent(ctx, customer.OwnerID, model.EventMessageReceived, customer.ID, evalCtx)
	if err != nil {
		s.log.Error(err, "Automation failed for inbound message", "customer_id", customer.ID)
	} else {
		result.AutomationMessageIDs = res.MessageIDs()
	}

	_ = s.publisher.Publish(ctx, model.EventMessageReceived, model.LifecycleEvent{
		Type:       model.EventMessageReceived,
		OwnerID:    customer.OwnerID,
		CustomerID: customer.ID,
		Channel:    msg.Channel,
		OccurredAt: occurredAt.UTC(),
		Data: map[string]interface{}{
			"is_new_customer": result.IsNewCustomer,
			"cancelled":       result.Cancelled,
			"interaction_id":  result.InteractionID,
		},
	})

	s.log.Info("Inbound message processed",
		"customer_id", customer.ID,
		"new_customer", result.IsNewCustomer,
		"automation_messages", len(result.AutomationMessageIDs),
	)
	return result, nil
}

func (s *Service) resolveCustomer(ctx context.Context, tx repository.Store, rules config.InboundRules, phone, profileName string, now time.Time) (*model.Customer, bool, error) {
	customer, err := tx.Customers().GetByPhone(ctx, phone)
	if err == nil {
		return customer, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	ownerID, err := s.defaultOwner(ctx, tx)
	if err != nil {
		return nil, false, err
	}

	name := strings.TrimSpace(profileName)
	if name == "" {
		name = "WhatsApp Lead " + phone
	}
	customer = &model.Customer{
		Base:       model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		OwnerID:    ownerID,
		Name:       name,
		Phone:      &phone,
		Stage:      model.StageNew,
		CanContact: true,
	}
	if lang := languageFor(rules, phone); lang != "" {
		customer.Language = &lang
	}
	if err := tx.Customers().Create(ctx, customer); err != nil {
		return nil, false, err
	}
	return customer, true, nil
}

func (s *Service) defaultOwner(ctx context.Context, tx repository.Store) (uuid.UUID, error) {
	if s.cfg.DefaultOwnerID != uuid.Nil {
		return s.cfg.DefaultOwnerID, nil
	}
	user, err := tx.Users().MostRecent(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return uuid.Nil, ErrNoOwner
	}
	if err != nil {
		return uuid.Nil, err
	}
	return user.ID, nil
}

// tagsFor lists the tags an inbound message earns, in a stable order.
func tagsFor(rules config.InboundRules, body string, isNew bool) []string {
	var tags []string
	if rules.ChannelTag != "" {
		tags = append(tags, rules.ChannelTag)
	}
	if isNew && rules.NewLeadTag != "" {
		tags = append(tags, rules.NewLeadTag)
	}

	keywords := make([]string, 0, len(rules.KeywordTags))
	for kw := range rules.KeywordTags {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)

	lower := strings.ToLower(body)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			tags = append(tags, rules.KeywordTags[kw])
		}
	}
	return tags
}

// languageFor picks the language of the longest matching phone prefix.
func languageFor(rules config.InboundRules, phone string) string {
	best, lang := 0, ""
	for prefix, l := range rules.LanguageByPrefix {
		if len(prefix) > best && strings.HasPrefix(phone, prefix) {
			best, lang = len(prefix), l
		}
	}
	return lang
}

func eventContext(msg Message, customer *model.Customer, isNew bool) map[string]interface{} {
	tags := append([]string{}, customer.Tags...)
	evalCtx := map[string]interface{}{
		"channel":           string(msg.Channel),
		"is_new_customer":   isNew,
		"message_body":      msg.Body,
		"customer_phone":    customer.Address(model.ChannelWhatsApp),
		"customer_stage":    customer.Stage,
		"customer_tags":     tags,
		"customer_language": nil,
		"profile_name":      msg.ProfileName,
	}
	if customer.Language != nil {
		evalCtx["customer_language"] = *customer.Language
	}
	return evalCtx
}
