package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	id "concytec/pkg/domain"
	audit "concytec/pkg/platform/audit"
	"concytec/pkg/platform/audit/store/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	ePersonID := id.EPersonID(uuid.New())
	event := audit.Event{
		EPersonID: ePersonID,
		Action:    string(audit.EventClaimCompleted),
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	events, err := pub.List(context.Background(), ePersonID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventClaimCompleted), events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close()

	ePersonID := id.EPersonID(uuid.New())
	event := audit.Event{
		EPersonID: ePersonID,
		Action:    string(audit.EventMergeResolved),
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, err := pub.List(context.Background(), ePersonID)
		return err == nil && len(events) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	ePersonID := id.EPersonID(uuid.New())

	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			EPersonID: ePersonID,
			Action:    string(audit.EventShadowCopyCreated),
		})
		require.NoError(t, err)
	}

	// Close should drain all events
	pub.Close()

	events, err := store.ListByEPerson(context.Background(), ePersonID)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	ePersonID := id.EPersonID(uuid.New())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), audit.Event{
				EPersonID: ePersonID,
				Action:    string(audit.EventShadowCopyRefreshed),
			})
			if err != nil {
				assert.ErrorIs(t, err, ErrBufferFull)
			}
		}()
	}
	wg.Wait()
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	ePersonID := id.EPersonID(uuid.New())
	before := time.Now()
	err := pub.Emit(context.Background(), audit.Event{
		EPersonID: ePersonID,
		Action:    string(audit.EventProfileCreated),
	})
	require.NoError(t, err)
	after := time.Now()

	events, err := pub.List(context.Background(), ePersonID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.False(t, events[0].Timestamp.Before(before), "timestamp should be >= before")
	assert.False(t, events[0].Timestamp.After(after), "timestamp should be <= after")
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	ePersonID := id.EPersonID(uuid.New())
	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	err := pub.Emit(context.Background(), audit.Event{
		EPersonID: ePersonID,
		Action:    string(audit.EventProfileDeleted),
		Timestamp: customTime,
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), ePersonID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

func TestPublisher_MultipleEventsKeepOrder(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	ePersonID := id.EPersonID(uuid.New())
	actions := []audit.AuditEvent{
		audit.EventProfileCreated,
		audit.EventMergeResolved,
		audit.EventClaimCompleted,
	}
	for _, action := range actions {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{EPersonID: ePersonID, Action: string(action)}))
	}

	result, err := pub.List(context.Background(), ePersonID)
	require.NoError(t, err)
	require.Len(t, result, 3)
	for i, action := range actions {
		assert.Equal(t, string(action), result[i].Action)
	}
}

func TestPublisher_SamplerOnlyAffectsOperations(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithSampler(NewSampler(0)))
	defer pub.Close()

	ePersonID := id.EPersonID(uuid.New())
	require.NoError(t, pub.Emit(context.Background(), audit.Event{EPersonID: ePersonID, Action: string(audit.EventShadowCopyRefreshed)}))
	require.NoError(t, pub.Emit(context.Background(), audit.Event{EPersonID: ePersonID, Action: string(audit.EventClaimCompleted)}))

	events, err := pub.List(context.Background(), ePersonID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventClaimCompleted), events[0].Action)
}

func TestSampler_RateOverride(t *testing.T) {
	s := NewSampler(0)
	s.SetRate(audit.EventShadowCopyCreated, 1)

	assert.True(t, s.ShouldSample(string(audit.EventShadowCopyCreated)))
	assert.False(t, s.ShouldSample(string(audit.EventShadowCopyRefreshed)))
}
