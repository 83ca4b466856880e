package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/repository"
	"github.com/jwalitptl/crm-api/internal/repository/memory"
	"github.com/jwalitptl/crm-api/pkg/logger"
	"github.com/jwalitptl/crm-api/pkg/metrics"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

const fallback = "Thanks for your message!"

type fixture struct {
	engine   *Engine
	store    *memory.Store
	customer *model.Customer
}

func newFixture(t *testing.T, language *string) *fixture {
	t.Helper()
	store := memory.NewStore()
	phone := "+447700900123"
	customer := &model.Customer{
		Base:       model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		OwnerID:    uuid.New(),
		Name:       "Ana",
		Phone:      &phone,
		Stage:      model.StageNew,
		CanContact: true,
		Language:   language,
	}
	require.NoError(t, store.Customers().Create(context.Background(), customer))

	engine := NewEngine(store, Config{WelcomeTemplateName: "welcome", FallbackText: fallback}, logger.Nop(), metrics.NewNop())
	engine.now = func() time.Time { return now }
	return &fixture{engine: engine, store: store, customer: customer}
}

func (f *fixture) workflow(t *testing.T, conditions model.JSONMap, actions ...model.Action) *model.Workflow {
	t.Helper()
	wf := &model.Workflow{
		Base:         model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		OwnerID:      f.customer.OwnerID,
		Name:         "wf",
		TriggerEvent: model.EventMessageReceived,
		IsEnabled:    true,
		Conditions:   conditions,
		Actions:      actions,
	}
	require.NoError(t, f.store.Workflows().Create(context.Background(), wf))
	return wf
}

func (f *fixture) handle(t *testing.T, evalCtx map[string]interface{}) *Result {
	t.Helper()
	res, err := f.engine.HandleEvent(context.Background(), f.customer.OwnerID, model.EventMessageReceived, f.customer.ID, evalCtx)
	require.NoError(t, err)
	return res
}

func TestSendTemplateResolvesLanguageWithFallback(t *testing.T) {
	en := "en"
	f := newFixture(t, &en)
	ctx := context.Background()

	und := &model.Template{Channel: model.ChannelWhatsApp, Name: "welcome", Language: model.LanguageUnspecified, Body: "Hi {{name}}"}
	require.NoError(t, f.store.Templates().Create(ctx, und))

	f.workflow(t, model.JSONMap{"is_new_customer": true}, model.SendTemplateAction{
		Variables:       map[string]interface{}{"name": "Ana"},
		DelayMinutes:    60,
		CancelOnInbound: true,
	})

	res := f.handle(t, map[string]interface{}{"is_new_customer": true})
	assert.Equal(t, 1, res.WorkflowsMatched)
	require.Len(t, res.Messages, 1)

	msg := res.Messages[0]
	require.NotNil(t, msg.TemplateID)
	assert.Equal(t, und.ID, *msg.TemplateID)
	assert.Equal(t, "Ana", msg.Variables["name"])
	assert.True(t, msg.CancelOnInbound)
	require.NotNil(t, msg.NotBeforeAt)
	assert.Equal(t, now.Add(time.Hour), *msg.NotBeforeAt)
	assert.Equal(t, f.customer.OwnerID, msg.OwnerID)
}

func TestSendTemplatePrefersExactLanguage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.store.Templates().Create(ctx, &model.Template{Channel: model.ChannelWhatsApp, Name: "promo", Language: model.LanguageUnspecified, Body: "x"}))
	pt := &model.Template{Channel: model.ChannelWhatsApp, Name: "promo", Language: "pt", Body: "y"}
	require.NoError(t, f.store.Templates().Create(ctx, pt))

	f.workflow(t, nil, model.SendTemplateAction{TemplateName: "promo", Language: "pt"})
	res := f.handle(t, map[string]interface{}{"variables": map[string]interface{}{"1": "x"}})

	require.Len(t, res.Messages, 1)
	assert.Equal(t, pt.ID, *res.Messages[0].TemplateID)
	assert.Equal(t, "x", res.Messages[0].Variables["1"], "variables fall back to the event context")
}

func TestSendTemplateWithoutTemplateSendsFallbackText(t *testing.T) {
	f := newFixture(t, nil)
	f.workflow(t, nil, model.SendTemplateAction{TemplateName: "missing"})

	res := f.handle(t, nil)
	require.Len(t, res.Messages, 1)
	assert.Nil(t, res.Messages[0].TemplateID)
	assert.Equal(t, fallback, *res.Messages[0].Body)
}

func TestSendTextUsesFallbackForEmptyBody(t *testing.T) {
	f := newFixture(t, nil)
	f.workflow(t, nil,
		model.SendTextAction{Body: "  "},
		model.SendTextAction{Body: "See you soon", Channel: model.ChannelSMS},
	)

	res := f.handle(t, nil)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, fallback, *res.Messages[0].Body)
	assert.Equal(t, "See you soon", *res.Messages[1].Body)
	assert.Equal(t, model.ChannelSMS, res.Messages[1].Channel)
}

func TestCustomerActions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.workflow(t, model.JSONMap{"message_body__icontains": "implant"},
		model.AddTagAction{Tag: "implant"},
		model.AddTagAction{Tag: "   "},
		model.SetStageAction{Stage: "qualified"},
		model.SetFollowUpAction{Hours: intPtr(1), Minutes: intPtr(30)},
		model.SetFollowUpAction{},
		model.UnknownAction{Kind: "send_webhook", Raw: []byte(`{"type":"send_webhook"}`)},
	)

	res := f.handle(t, map[string]interface{}{"message_body": "Do you do IMPLANTS?"})
	assert.Equal(t, 1, res.WorkflowsMatched)
	assert.Empty(t, res.Messages)

	got, err := f.store.Customers().Get(ctx, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"implant"}, got.Tags)
	assert.Equal(t, "qualified", got.Stage)
	require.NotNil(t, got.NextFollowUpAt)
	assert.Equal(t, now.Add(90*time.Minute), *got.NextFollowUpAt)
}

func TestExplicitZeroFollowUpIsNow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.workflow(t, nil,
		model.SetFollowUpAction{Hours: intPtr(3)},
		model.SetFollowUpAction{Minutes: intPtr(0)},
	)
	f.handle(t, nil)

	got, err := f.store.Customers().Get(ctx, f.customer.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextFollowUpAt)
	assert.Equal(t, now, *got.NextFollowUpAt)
}

func intPtr(v int) *int { return &v }

func TestNonMatchingAndDisabledWorkflowsDoNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.workflow(t, model.JSONMap{"channel": "email"}, model.SendTextAction{Body: "a"})
	disabled := f.workflow(t, nil, model.SendTextAction{Body: "b"})
	disabled.IsEnabled = false
	require.NoError(t, f.store.Workflows().Update(ctx, disabled))

	other := f.workflow(t, nil, model.SendTextAction{Body: "c"})
	other.TriggerEvent = "deal.won"
	require.NoError(t, f.store.Workflows().Update(ctx, other))

	res := f.handle(t, map[string]interface{}{"channel": "whatsapp"})
	assert.Zero(t, res.WorkflowsMatched)
	assert.Empty(t, res.Messages)
}

func TestWorkflowsRunOldestFirst(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	second := f.workflow(t, nil, model.SendTextAction{Body: "second"})
	second.CreatedAt = now.Add(time.Minute)
	require.NoError(t, f.store.Workflows().Update(ctx, second))
	f.workflow(t, nil, model.SendTextAction{Body: "first"})

	res := f.handle(t, nil)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, "first", *res.Messages[0].Body)
	assert.Equal(t, "second", *res.Messages[1].Body)
}

func TestMissingCustomerSkipsCustomerActions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.workflow(t, nil,
		model.SendTextAction{Body: "hello"},
		model.SetStageAction{Stage: "qualified"},
	)
	res, err := f.engine.HandleEvent(ctx, f.customer.OwnerID, model.EventMessageReceived, uuid.New(), nil)
	require.NoError(t, err)
	assert.Len(t, res.Messages, 1)
}

type failingTags struct{}

func (failingTags) AddToCustomer(ctx context.Context, ownerID, customerID uuid.UUID, name, color string) error {
	return errors.New("disk full")
}

func (failingTags) ListForCustomer(ctx context.Context, customerID uuid.UUID) ([]string, error) {
	return nil, nil
}

// failingTagStore breaks tag writes so the rollback of earlier actions can be observed.
type failingTagStore struct {
	*memory.Store
}

func (s failingTagStore) Tags() repository.TagRepository {
	return failingTags{}
}

func (s failingTagStore) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.Store.WithTx(ctx, func(tx repository.Store) error {
		return fn(failingTagStore{tx.(*memory.Store)})
	})
}

func TestStorageErrorRollsBackEverything(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.workflow(t, nil,
		model.SendTextAction{Body: "hello"},
		model.SetStageAction{Stage: "qualified"},
		model.AddTagAction{Tag: "vip"},
	)
	engine := NewEngine(failingTagStore{f.store}, f.engine.cfg, logger.Nop(), metrics.NewNop())

	_, err := engine.HandleEvent(ctx, f.customer.OwnerID, model.EventMessageReceived, f.customer.ID, nil)
	require.ErrorContains(t, err, "disk full")

	msgs, err := f.store.Messages().ListByOwner(ctx, f.customer.OwnerID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	got, err := f.store.Customers().Get(ctx, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageNew, got.Stage)
}
