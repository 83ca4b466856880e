package inbound

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/crm-api/internal/config"
	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/repository/memory"
	"github.com/jwalitptl/crm-api/internal/service/automation"
	"github.com/jwalitptl/crm-api/internal/service/outbound"
	"github.com/jwalitptl/crm-api/pkg/logger"
	"github.com/jwalitptl/crm-api/pkg/metrics"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	return m.Called(eventType, payload).Error(0)
}

type mockEventHandler struct {
	mock.Mock
}

func (m *mockEventHandler) HandleEvent(ctx context.Context, ownerID uuid.UUID, event string, customerID uuid.UUID, evalCtx map[string]interface{}) (*automation.Result, error) {
	args := m.Called(ownerID, event, customerID, evalCtx)
	res, _ := args.Get(0).(*automation.Result)
	return res, args.Error(1)
}

var rules = config.InboundRules{
	ChannelTag:       "whatsapp",
	NewLeadTag:       "new_lead",
	KeywordTags:      map[string]string{"implant": "implant_interest", "price": "pricing"},
	LanguageByPrefix: map[string]string{"+44": "en", "+351": "pt"},
}

func newService(t *testing.T, store *memory.Store, handler EventHandler) (*Service, *mockPublisher) {
	t.Helper()
	pub := new(mockPublisher)
	pub.On("Publish", model.EventMessageReceived, mock.Anything).Return(nil)
	svc := NewService(store, handler, pub, Config{DefaultCountryCode: "+44"}, logger.Nop(), metrics.NewNop())
	svc.now = func() time.Time { return now }
	return svc, pub
}

func seedOwner(t *testing.T, store *memory.Store) uuid.UUID {
	t.Helper()
	user := &model.User{ID: uuid.New(), Email: "owner@example.com", CreatedAt: now.Add(-time.Hour)}
	require.NoError(t, store.Users().Create(context.Background(), user))
	return user.ID
}

func TestNewCustomerFromUnknownSender(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	owner := seedOwner(t, store)

	handler := new(mockEventHandler)
	handler.On("HandleEvent", owner, model.EventMessageReceived, mock.Anything, mock.MatchedBy(func(c map[string]interface{}) bool {
		return c["is_new_customer"] == true &&
			c["channel"] == "whatsapp" &&
			c["customer_stage"] == model.StageEngaged &&
			c["customer_language"] == "en" &&
			c["message_body"] == "What is the PRICE of an implant?"
	})).Return(&automation.Result{}, nil).Once()

	svc, pub := newService(t, store, handler)
	res, err := svc.HandleInbound(ctx, rules, Message{
		From:              "whatsapp:+447700900123",
		Body:              "What is the PRICE of an implant?",
		ProviderMessageID: "SM1",
	})
	require.NoError(t, err)
	assert.True(t, res.IsNewCustomer)

	customer, err := store.Customers().Get(ctx, res.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, owner, customer.OwnerID)
	assert.Equal(t, "WhatsApp Lead +447700900123", customer.Name)
	assert.Equal(t, "+447700900123", *customer.Phone)
	assert.Equal(t, model.StageEngaged, customer.Stage)
	assert.True(t, customer.CanContact)
	assert.Equal(t, "en", *customer.Language)
	assert.ElementsMatch(t, []string{"whatsapp", "new_lead", "implant_interest", "pricing"}, customer.Tags)

	interactions, err := store.Interactions().ListByCustomer(ctx, customer.ID)
	require.NoError(t, err)
	require.Len(t, interactions, 1)
	assert.Equal(t, model.DirectionInbound, interactions[0].Direction)
	assert.Equal(t, "SM1", *interactions[0].ProviderMessageID)
	assert.Equal(t, res.InteractionID, interactions[0].ID)

	handler.AssertExpectations(t)
	pub.AssertCalled(t, "Publish", model.EventMessageReceived, mock.Anything)
}

func TestExistingCustomerKeepsStageAndProfile(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	phone := "+447700900123"
	existing := &model.Customer{
		Base:       model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		OwnerID:    uuid.New(),
		Name:       "Ana",
		Phone:      &phone,
		Stage:      "qualified",
		CanContact: true,
	}
	require.NoError(t, store.Customers().Create(ctx, existing))

	handler := new(mockEventHandler)
	handler.On("HandleEvent", existing.OwnerID, model.EventMessageReceived, existing.ID, mock.Anything).Return(&automation.Result{}, nil)

	svc, _ := newService(t, store, handler)
	res, err := svc.HandleInbound(ctx, rules, Message{From: "07700 900123", Body: "hi", ProfileName: "Someone"})
	require.NoError(t, err)
	assert.False(t, res.IsNewCustomer)
	assert.Equal(t, existing.ID, res.CustomerID)

	got, err := store.Customers().Get(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "qualified", got.Stage)
	assert.Equal(t, "Ana", got.Name)
	assert.Equal(t, []string{"whatsapp"}, got.Tags)
}

func TestConfiguredDefaultOwnerAndProfileName(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	owner := uuid.New()

	handler := new(mockEventHandler)
	handler.On("HandleEvent", owner, mock.Anything, mock.Anything, mock.Anything).Return(&automation.Result{}, nil)

	svc, _ := newService(t, store, handler)
	svc.cfg.DefaultOwnerID = owner
	res, err := svc.HandleInbound(ctx, rules, Message{From: "+351912345678", Body: "ola", ProfileName: " Joana "})
	require.NoError(t, err)

	got, err := store.Customers().Get(ctx, res.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, owner, got.OwnerID)
	assert.Equal(t, "Joana", got.Name)
	assert.Equal(t, "pt", *got.Language)
}

func TestRejectsMissingSenderAndMissingOwner(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc, _ := newService(t, store, new(mockEventHandler))

	_, err := svc.HandleInbound(ctx, rules, Message{From: "  ", Body: "hi"})
	assert.ErrorIs(t, err, ErrMissingSender)

	_, err = svc.HandleInbound(ctx, rules, Message{From: "+447700900123", Body: "hi"})
	assert.ErrorIs(t, err, ErrNoOwner)

	customer, err := store.Customers().GetByPhone(ctx, "+447700900123")
	assert.Error(t, err)
	assert.Nil(t, customer)
}

func TestAutomationFailureKeepsInboundRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedOwner(t, store)

	handler := new(mockEventHandler)
	handler.On("HandleEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db gone"))

	svc, _ := newService(t, store, handler)
	res, err := svc.HandleInbound(ctx, rules, Message{From: "+447700900123", Body: "hi"})
	require.NoError(t, err)
	assert.Empty(t, res.AutomationMessageIDs)

	interactions, err := store.Interactions().ListByCustomer(ctx, res.CustomerID)
	require.NoError(t, err)
	assert.Len(t, interactions, 1)
}

func TestReplyCancelsPendingFollowUp(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	owner := seedOwner(t, store)
	engine := automation.NewEngine(store, automation.Config{WelcomeTemplateName: "welcome", FallbackText: "Thanks!"}, logger.Nop(), metrics.NewNop())
	svc, _ := newService(t, store, engine)

	phone := "+447700900123"
	customer := &model.Customer{
		Base:       model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		OwnerID:    owner,
		Name:       "Ana",
		Phone:      &phone,
		Stage:      model.StageNew,
		CanContact: true,
	}
	require.NoError(t, store.Customers().Create(ctx, customer))

	tpl := &model.Template{Channel: model.ChannelWhatsApp, Name: "reminder", Body: "Still interested?"}
	require.NoError(t, store.Templates().Create(ctx, tpl))

	followUp, err := outbound.Enqueue(ctx, store.Messages(), model.EnqueueRequest{
		OwnerID:         owner,
		CustomerID:      customer.ID,
		Channel:         model.ChannelWhatsApp,
		TemplateID:      &tpl.ID,
		DelayMinutes:    60,
		CancelOnInbound: true,
	}, now)
	require.NoError(t, err)

	keep, err := outbound.Enqueue(ctx, store.Messages(), model.EnqueueRequest{
		OwnerID:    owner,
		CustomerID: customer.ID,
		Body:       "receipt",
	}, now)
	require.NoError(t, err)

	res, err := svc.HandleInbound(ctx, rules, Message{From: phone, Body: "yes please"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Cancelled)

	got, err := store.Messages().Get(ctx, followUp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)

	// never claimed, even once it is due
	batch, err := store.Messages().ClaimBatch(ctx, 10, 3, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, keep.ID, batch[0].ID)
}

func TestReplyDoesNotCancelClaimedMessage(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	owner := seedOwner(t, store)

	handler := new(mockEventHandler)
	handler.On("HandleEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&automation.Result{}, nil)
	svc, _ := newService(t, store, handler)

	phone := "+447700900123"
	customer := &model.Customer{
		Base:       model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		OwnerID:    owner,
		Name:       "Ana",
		Phone:      &phone,
		Stage:      model.StageNew,
		CanContact: true,
	}
	require.NoError(t, store.Customers().Create(ctx, customer))

	msg, err := outbound.Enqueue(ctx, store.Messages(), model.EnqueueRequest{
		OwnerID: owner, CustomerID: customer.ID, Body: "hi", CancelOnInbound: true,
	}, now)
	require.NoError(t, err)
	_, err = store.Messages().ClaimBatch(ctx, 10, 3, now)
	require.NoError(t, err)

	res, err := svc.HandleInbound(ctx, rules, Message{From: phone, Body: "hello"})
	require.NoError(t, err)
	assert.Zero(t, res.Cancelled)

	got, err := store.Messages().Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusSending, got.Status)
}

func TestTagsFor(t *testing.T) {
	tags := tagsFor(rules, "Any price on IMPLANTS?", false)
	assert.Equal(t, []string{"whatsapp", "implant_interest", "pricing"}, tags)

	assert.Equal(t, []string{"new_lead"}, tagsFor(config.InboundRules{NewLeadTag: "new_lead"}, "", true))
}
