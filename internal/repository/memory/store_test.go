package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/repository"
)

var baseTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func enqueue(t *testing.T, store *Store, req model.EnqueueRequest, at time.Time) *model.OutboundMessage {
	t.Helper()
	msg, err := model.NewOutboundMessage(req, at)
	require.NoError(t, err)
	require.NoError(t, store.Messages().Create(context.Background(), msg))
	return msg
}

func TestConcurrentClaimsNeverOverlap(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	owner, customer := uuid.New(), uuid.New()

	for i := 0; i < 200; i++ {
		enqueue(t, store, model.EnqueueRequest{OwnerID: owner, CustomerID: customer, Body: "hi"}, baseTime.Add(time.Duration(i)*time.Millisecond))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[uuid.UUID]int{}
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := store.Messages().ClaimBatch(ctx, 7, 3, baseTime.Add(time.Hour))
				assert.NoError(t, err)
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, m := range batch {
					seen[m.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 200)
	for id, n := range seen {
		assert.Equal(t, 1, n, "message %s claimed %d times", id, n)
	}
}

func TestClaimBatchOrderingAndEligibility(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	owner, customer := uuid.New(), uuid.New()

	second := enqueue(t, store, model.EnqueueRequest{OwnerID: owner, CustomerID: customer, Body: "second"}, baseTime.Add(time.Second))
	first := enqueue(t, store, model.EnqueueRequest{OwnerID: owner, CustomerID: customer, Body: "first"}, baseTime)
	delayed := enqueue(t, store, model.EnqueueRequest{OwnerID: owner, CustomerID: customer, Body: "later", DelayMinutes: 30}, baseTime)

	batch, err := store.Messages().ClaimBatch(ctx, 10, 3, baseTime.Add(29*time.Minute))
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, first.ID, batch[0].ID)
	assert.Equal(t, second.ID, batch[1].ID)
	assert.Equal(t, model.MessageStatusSending, batch[0].Status)

	batch, err = store.Messages().ClaimBatch(ctx, 10, 3, *delayed.NotBeforeAt)
	require.NoError(t, err)
	require.Len(t, batch, 1, "not_before_at equal to now is eligible")
	assert.Equal(t, delayed.ID, batch[0].ID)
}

func TestFailedMessagesRetryUntilCeiling(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	msg := enqueue(t, store, model.EnqueueRequest{OwnerID: uuid.New(), CustomerID: uuid.New(), Body: "hi"}, baseTime)
	repo := store.Messages()

	for attempt := 1; attempt <= 2; attempt++ {
		batch, err := repo.ClaimBatch(ctx, 10, 2, baseTime)
		require.NoError(t, err)
		require.Len(t, batch, 1)
		require.NoError(t, repo.MarkFailed(ctx, msg.ID, "provider down", baseTime))

		got, err := repo.Get(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, model.MessageStatusFailed, got.Status)
		assert.Equal(t, attempt, got.RetryCount)
	}

	batch, err := repo.ClaimBatch(ctx, 10, 2, baseTime)
	require.NoError(t, err)
	assert.Empty(t, batch, "retry_count at the ceiling is excluded")
}

func TestCancelOnlyAffectsQueued(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	owner, customer := uuid.New(), uuid.New()
	repo := store.Messages()

	queued := enqueue(t, store, model.EnqueueRequest{OwnerID: owner, CustomerID: customer, Body: "a", CancelOnInbound: true}, baseTime)
	sending := enqueue(t, store, model.EnqueueRequest{OwnerID: owner, CustomerID: customer, Body: "b", CancelOnInbound: true}, baseTime.Add(-time.Minute))
	keep := enqueue(t, store, model.EnqueueRequest{OwnerID: owner, CustomerID: customer, Body: "c"}, baseTime.Add(time.Minute))

	claimed, err := repo.ClaimBatch(ctx, 1, 3, baseTime)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, sending.ID, claimed[0].ID)

	n, err := repo.CancelOnInbound(ctx, customer, baseTime.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := repo.Get(ctx, queued.ID)
	assert.Equal(t, model.MessageStatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)

	got, _ = repo.Get(ctx, sending.ID)
	assert.Equal(t, model.MessageStatusSending, got.Status)
	assert.Nil(t, got.CancelledAt)

	got, _ = repo.Get(ctx, keep.ID)
	assert.Equal(t, model.MessageStatusQueued, got.Status)

	n, err = repo.Cancel(ctx, uuid.New(), []uuid.UUID{keep.ID}, baseTime)
	require.NoError(t, err)
	assert.Zero(t, n, "other owners cannot cancel")

	n, err = repo.Cancel(ctx, owner, []uuid.UUID{keep.ID, sending.ID}, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMarkSentRequiresClaim(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	msg := enqueue(t, store, model.EnqueueRequest{OwnerID: uuid.New(), CustomerID: uuid.New(), Body: "hi"}, baseTime)

	err := store.Messages().MarkSent(ctx, msg.ID, "SM1", baseTime)
	assert.ErrorIs(t, err, repository.ErrNotClaimed)

	_, err = store.Messages().ClaimBatch(ctx, 1, 3, baseTime)
	require.NoError(t, err)
	require.NoError(t, store.Messages().MarkSent(ctx, msg.ID, "SM1", baseTime.Add(time.Second)))

	got, err := store.Messages().Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusSent, got.Status)
	assert.Equal(t, "SM1", *got.ProviderMessageID)
	assert.Equal(t, baseTime.Add(time.Second), got.UpdatedAt)
}

func TestReleaseClaims(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	msg := enqueue(t, store, model.EnqueueRequest{OwnerID: uuid.New(), CustomerID: uuid.New(), Body: "hi"}, baseTime)

	_, err := store.Messages().ClaimBatch(ctx, 1, 3, baseTime)
	require.NoError(t, err)

	n, err := store.Messages().CountStaleSending(ctx, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Messages().ReleaseClaims(ctx, []uuid.UUID{msg.ID}, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := store.Messages().Get(ctx, msg.ID)
	assert.Equal(t, model.MessageStatusQueued, got.Status)
	assert.Zero(t, got.RetryCount)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	customer := &model.Customer{Name: "Ada", Stage: model.StageNew, CanContact: true}
	require.NoError(t, store.Customers().Create(ctx, customer))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx repository.Store) error {
		require.NoError(t, tx.Customers().UpdateStage(ctx, customer.ID, model.StageEngaged, baseTime))
		require.NoError(t, tx.Tags().AddToCustomer(ctx, customer.OwnerID, customer.ID, "vip", ""))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Customers().Get(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageNew, got.Stage)
	assert.Empty(t, got.Tags)
}

func TestRollbackKeepsWritesMadeOutsideTx(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	owner, customer := uuid.New(), uuid.New()
	msg := enqueue(t, store, model.EnqueueRequest{OwnerID: owner, CustomerID: customer, Body: "hi"}, baseTime)

	var late *model.OutboundMessage
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-started
		claimed, err := store.Messages().ClaimBatch(ctx, 10, 3, baseTime)
		assert.NoError(t, err)
		if assert.Len(t, claimed, 1) {
			assert.NoError(t, store.Messages().MarkSent(ctx, msg.ID, "SM1", baseTime))
		}
		late = enqueue(t, store, model.EnqueueRequest{OwnerID: owner, CustomerID: customer, Body: "later"}, baseTime)
	}()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx repository.Store) error {
		require.NoError(t, tx.Customers().Create(ctx, &model.Customer{OwnerID: owner, Name: "Ada"}))
		close(started)
		time.Sleep(20 * time.Millisecond)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	<-done

	got, err := store.Messages().Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusSent, got.Status)

	_, err = store.Messages().Get(ctx, late.ID)
	assert.NoError(t, err)

	reclaimed, err := store.Messages().ClaimBatch(ctx, 10, 3, baseTime)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, late.ID, reclaimed[0].ID)
}

func TestAddTagIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	owner := uuid.New()
	customer := &model.Customer{OwnerID: owner, Name: "Ada"}
	require.NoError(t, store.Customers().Create(ctx, customer))

	require.NoError(t, store.Tags().AddToCustomer(ctx, owner, customer.ID, "vip", "#fff"))
	require.NoError(t, store.Tags().AddToCustomer(ctx, owner, customer.ID, "vip", ""))

	tags, err := store.Tags().ListForCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"vip"}, tags)
}
