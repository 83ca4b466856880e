// Package automation runs the owner's workflows for an event: conditions are
// matched against an event context and the actions of every matching workflow are
// executed in order.
package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/repository"
	"github.com/jwalitptl/crm-api/internal/service/outbound"
	"github.com/jwalitptl/crm-api/pkg/logger"
	"github.com/jwalitptl/crm-api/pkg/metrics"
)

type Config struct {
	// WelcomeTemplateName is used by send_template actions that name no template.
	WelcomeTemplateName string
	// FallbackText is sent when no template resolves or a send_text body is empty.
	FallbackText string
}

// Result lists what one HandleEvent call did.
type Result struct {
	WorkflowsMatched int
	Messages         []*model.OutboundMessage
}

func (r *Result) MessageIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.Messages))
	for _, m := range r.Messages {
		ids = append(ids, m.ID)
	}
	return ids
}

type Engine struct {
	store   repository.Store
	cfg     Config
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewEngine(store repository.Store, cfg Config, log *logger.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   store,
		cfg:     cfg,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// HandleEvent evaluates the owner's enabled workflows for event, oldest first.
// Everything the actions change is committed in one transaction; a storage error
// rolls all of it back.
func (e *Engine) HandleEvent(ctx context.Context, ownerID uuid.UUID, event string, customerID uuid.UUID, evalCtx map[string]interface{}) (*Result, error) {
	var result *Result
	err := e.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		result, err = e.run(ctx, tx, ownerID, event, customerID, evalCtx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to handle %s: %w", event, err)
	}
	return result, nil
}

type run struct {
	tx       repository.Store
	ownerID  uuid.UUID
	customer *model.Customer
	evalCtx  map[string]interface{}
	now      time.Time
	result   *Result
}

func (e *Engine) run(ctx context.Context, tx repository.Store, ownerID uuid.UUID, event string, customerID uuid.UUID, evalCtx map[string]interface{}) (*Result, error) {
	if evalCtx == nil {
		evalCtx = map[string]interface{}{}
	}

	customer, err := tx.Customers().Get(ctx, customerID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}

	workflows, err := tx.Workflows().ListEnabledByTrigger(ctx, ownerID, event)
	if err != nil {
		return nil, err
	}

	r := &run{
		tx:       tx,
		ownerID:  ownerID,
		customer: customer,
		evalCtx:  evalCtx,
		now:      e.now().UTC(),
		result:   &Result{},
	}
	for _, wf := range workflows {
		if !Match(wf.Conditions, evalCtx) {
			continue
		}
		r.result.WorkflowsMatched++
		e.log.Debug("Workflow matched", "workflow_id", wf.ID, "event", event, "customer_id", customerID)

		for _, action := range wf.Actions {
			outcome, err := e.execute(ctx, r, customerID, action)
			e.metrics.WorkflowActions.WithLabelValues(string(action.Type()), outcome).Inc()
			if err != nil {
				return nil, fmt.Errorf("workflow %s action %s: %w", wf.ID, action.Type(), err)
			}
		}
	}
	return r.result, nil
}

const (
	outcomeOK      = "ok"
	outcomeSkipped = "skipped"
	outcomeIgnored = "ignored"
	outcomeError   = "error"
)

func (e *Engine) execute(ctx context.Context, r *run, customerID uuid.UUID, action model.Action) (string, error) {
	switch a := action.(type) {
	case model.SendTemplateAction:
		return e.sendTemplate(ctx, r, customerID, a)
	case model.SendTextAction:
		body := strings.TrimSpace(a.Body)
		if body == "" {
			body = e.cfg.FallbackText
		}
		return e.enqueue(ctx, r, model.EnqueueRequest{
			CustomerID:      customerID,
			Channel:         a.Channel,
			Body:            body,
			DelayMinutes:    a.DelayMinutes,
			CancelOnInbound: a.CancelOnInbound,
		})
	case model.AddTagAction:
		tag := strings.TrimSpace(a.Tag)
		if r.customer == nil || tag == "" {
			return outcomeSkipped, nil
		}
		if err := r.tx.Tags().AddToCustomer(ctx, r.customer.OwnerID, r.customer.ID, tag, a.Color); err != nil {
			return outcomeError, err
		}
		return outcomeOK, nil
	case model.SetStageAction:
		stage := strings.TrimSpace(a.Stage)
		if r.customer == nil || stage == "" {
			return outcomeSkipped, nil
		}
		if err := r.tx.Customers().UpdateStage(ctx, r.customer.ID, stage, r.now); err != nil {
			return outcomeError, err
		}
		r.customer.Stage = stage
		return outcomeOK, nil
	case model.SetFollowUpAction:
		if r.customer == nil || !a.HasOffset() {
			return outcomeSkipped, nil
		}
		if err := r.tx.Customers().SetNextFollowUp(ctx, r.customer.ID, r.now.Add(a.Offset()), r.now); err != nil {
			return outcomeError, err
		}
		return outcomeOK, nil
	default:
		e.log.Debug("Ignoring unsupported workflow action", "type", string(action.Type()))
		return outcomeIgnored, nil
	}
}

func (e *Engine) sendTemplate(ctx context.Context, r *run, customerID uuid.UUID, a model.SendTemplateAction) (string, error) {
	channel := a.Channel
	if channel == "" {
		channel = model.ChannelWhatsApp
	}
	name := strings.TrimSpace(a.TemplateName)
	if name == "" {
		name = e.cfg.WelcomeTemplateName
	}
	language := strings.TrimSpace(a.Language)
	if language == "" && r.customer != nil && r.customer.Language != nil {
		language = strings.TrimSpace(*r.customer.Language)
	}

	req := model.EnqueueRequest{
		CustomerID:      customerID,
		Channel:         channel,
		DelayMinutes:    a.DelayMinutes,
		CancelOnInbound: a.CancelOnInbound,
	}

	tpl, err := repository.ResolveTemplate(ctx, r.tx.Templates(), channel, name, language)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		e.log.Debug("Template not found, sending fallback text", "template", name, "language", language)
		req.Body = e.cfg.FallbackText
	case err != nil:
		return outcomeError, fmt.Errorf("failed to resolve template %s: %w", name, err)
	default:
		req.TemplateID = &tpl.ID
		req.Variables = a.Variables
		if len(req.Variables) == 0 {
			if vars, ok := r.evalCtx["variables"].(map[string]interface{}); ok {
				req.Variables = vars
			}
		}
	}
	return e.enqueue(ctx, r, req)
}

func (e *Engine) enqueue(ctx context.Context, r *run, req model.EnqueueRequest) (string, error) {
	req.OwnerID = r.ownerID
	msg, err := outbound.Enqueue(ctx, r.tx.Messages(), req, r.now)
	if errors.Is(err, model.ErrValidation) {
		e.log.Warn("Skipping workflow send", "customer_id", req.CustomerID, "reason", err.Error())
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeError, err
	}
	r.result.Messages = append(r.result.Messages, msg)
	return outcomeOK, nil
}
