package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kuyugama/ratelimit-go/internal/models"
)

type fakeStore struct {
	mu     sync.Mutex
	events []*models.DecisionEvent
}

func (s *fakeStore) Record(_ context.Context, event *models.DecisionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestRecorder_RecordAdmittedPersistsAsynchronously(t *testing.T) {
	store := &fakeStore{}
	recorder := NewRecorder(store, zap.NewNop())
	defer recorder.Close()

	recorder.RecordAdmitted("GET", "/widgets", "caller-1", "default", 0)

	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 5*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, models.OutcomeAdmitted, store.events[0].Outcome)
	assert.Equal(t, "caller-1", store.events[0].IdentityID)
}

func TestRecorder_RecordLimitedCarriesReasonAndDuration(t *testing.T) {
	store := &fakeStore{}
	recorder := NewRecorder(store, zap.NewNop())
	defer recorder.Close()

	recorder.RecordLimited(models.OutcomeBlocked, "GET", "/widgets", "caller-2", "default", 1, "hits exceeded", 30*time.Second)

	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 5*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, models.OutcomeBlocked, store.events[0].Outcome)
	assert.Equal(t, "hits exceeded", store.events[0].RuleReason)
	assert.Equal(t, 30*time.Second, store.events[0].LimitedFor)
}

func TestRecorder_CloseDrainsBufferedEvents(t *testing.T) {
	store := &fakeStore{}
	recorder := NewRecorder(store, zap.NewNop())

	for i := 0; i < 10; i++ {
		recorder.RecordAdmitted("GET", "/widgets", "caller-3", "default", 0)
	}

	require.NoError(t, recorder.Close())
	assert.Equal(t, 10, store.count())
}
