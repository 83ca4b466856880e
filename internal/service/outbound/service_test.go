package outbound

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/repository/memory"
	apperrors "github.com/jwalitptl/crm-api/pkg/errors"
	"github.com/jwalitptl/crm-api/pkg/logger"
	"github.com/jwalitptl/crm-api/pkg/metrics"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*service, *memory.Store, *model.Customer) {
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
	}
	require.NoError(t, store.Customers().Create(context.Background(), customer))

	svc := NewService(store, logger.Nop(), metrics.NewNop()).(*service)
	svc.now = func() time.Time { return now }
	return svc, store, customer
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "expected AppError, got %v", err)
	return appErr.StatusCode()
}

func TestCreate(t *testing.T) {
	svc, _, customer := setup(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, customer.OwnerID, model.EnqueueRequest{
		CustomerID:      customer.ID,
		Body:            "  Hello  ",
		DelayMinutes:    60,
		CancelOnInbound: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusQueued, msg.Status)
	assert.Equal(t, model.ChannelWhatsApp, msg.Channel)
	assert.Equal(t, 0, msg.RetryCount)
	assert.Equal(t, "  Hello  ", *msg.Body)
	assert.Equal(t, customer.OwnerID, msg.OwnerID)
	require.NotNil(t, msg.NotBeforeAt)
	assert.Equal(t, now.Add(time.Hour), *msg.NotBeforeAt)
}

func TestCreateRejections(t *testing.T) {
	svc, _, customer := setup(t)
	ctx := context.Background()
	missingTemplate := uuid.New()

	tests := []struct {
		name   string
		owner  uuid.UUID
		req    model.EnqueueRequest
		status int
	}{
		{"unknown customer", customer.OwnerID, model.EnqueueRequest{CustomerID: uuid.New(), Body: "x"}, http.StatusNotFound},
		{"other owner", uuid.New(), model.EnqueueRequest{CustomerID: customer.ID, Body: "x"}, http.StatusForbidden},
		{"no content", customer.OwnerID, model.EnqueueRequest{CustomerID: customer.ID, Body: "   "}, http.StatusBadRequest},
		{"bad channel", customer.OwnerID, model.EnqueueRequest{CustomerID: customer.ID, Body: "x", Channel: "fax"}, http.StatusBadRequest},
		{"unknown template", customer.OwnerID, model.EnqueueRequest{CustomerID: customer.ID, TemplateID: &missingTemplate}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.owner, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.status, statusOf(t, err))
		})
	}
}

func TestGetAndList(t *testing.T) {
	svc, _, customer := setup(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, customer.OwnerID, model.EnqueueRequest{CustomerID: customer.ID, Body: "hi"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, customer.OwnerID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)

	_, err = svc.Get(ctx, uuid.New(), msg.ID)
	assert.Equal(t, http.StatusForbidden, statusOf(t, err))

	_, err = svc.Get(ctx, customer.OwnerID, uuid.New())
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))

	list, err := svc.List(ctx, customer.OwnerID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = svc.List(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCancel(t *testing.T) {
	svc, store, customer := setup(t)
	ctx := context.Background()

	queued, err := svc.Create(ctx, customer.OwnerID, model.EnqueueRequest{CustomerID: customer.ID, Body: "a"})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, customer.OwnerID, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = svc.Cancel(ctx, customer.OwnerID, queued.ID)
	assert.Equal(t, http.StatusConflict, statusOf(t, err))

	claimed, err := svc.Create(ctx, customer.OwnerID, model.EnqueueRequest{CustomerID: customer.ID, Body: "b"})
	require.NoError(t, err)
	batch, err := store.Messages().ClaimBatch(ctx, 10, 3, now)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	_, err = svc.Cancel(ctx, customer.OwnerID, claimed.ID)
	assert.Equal(t, http.StatusConflict, statusOf(t, err))

	got, err := store.Messages().Get(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusSending, got.Status, "claimed message must not be altered")
}
