package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/marketingops/experiments/internal/allocation"
	"github.com/marketingops/experiments/internal/application/services"
	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/domain/providers"
	apperrors "github.com/marketingops/experiments/pkg/errors"
)

type MockCacheProvider struct {
	mock.Mock
}

func (m *MockCacheProvider) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockCacheProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

func (m *MockCacheProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, value, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockCacheProvider) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockCacheProvider) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func TestAssignmentService_StickyForSubject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e, _, _ := f.running(t, entities.AllocationRandom)

	first, err := f.assignments.Assign(ctx, e.ID, "subject-1")
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := f.assignments.Assign(ctx, e.ID, "subject-1")
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
	}

	cached, err := f.cache.Get(ctx, f.assignments.StickyKey(e.ID, "subject-1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, string(cached))
}

func TestAssignmentService_StoreOutlivesCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e, _, _ := f.running(t, entities.AllocationRandom)

	first, err := f.assignments.Assign(ctx, e.ID, "subject-1")
	require.NoError(t, err)

	f.clock.Advance(15 * 24 * time.Hour)
	key := f.assignments.StickyKey(e.ID, "subject-1")
	exists, err := f.cache.Exists(ctx, key)
	require.NoError(t, err)
	require.False(t, exists)

	again, err := f.assignments.Assign(ctx, e.ID, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	exists, err = f.cache.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAssignmentService_ConcurrentFirstAssignmentsAgree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e, _, _ := f.running(t, entities.AllocationRandom)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]int{}
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := f.assignments.Assign(ctx, e.ID, "racer")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[v.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 1)
}

func TestAssignmentService_LoserRereadsCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e, control, treatment := f.running(t, entities.AllocationHash)

	local, err := allocation.NewEngine().Assign(e, "subject-1", entities.AllocationHash)
	require.NoError(t, err)
	winner := control
	if local.ID == control.ID {
		winner = treatment
	}

	c := new(MockCacheProvider)
	key := "exp:assign:" + e.ID + ":subject-1"
	c.On("Get", mock.Anything, key).Return(nil, providers.ErrCacheMiss).Once()
	c.On("SetNX", mock.Anything, key, []byte(local.ID), e.StickyTTL()).Return(false, nil).Once()
	c.On("Get", mock.Anything, key).Return([]byte(winner.ID), nil).Once()

	svc := services.NewAssignmentService(f.store.Experiments(), f.store.Variants(), c, nil)
	got, err := svc.Assign(ctx, e.ID, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, winner.ID, got.ID)
	c.AssertExpectations(t)
}

func TestAssignmentService_CacheOutageStillAssigns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e, _, _ := f.running(t, entities.AllocationHash)

	c := new(MockCacheProvider)
	c.On("Get", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	c.On("SetNX", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("connection refused"))

	svc := services.NewAssignmentService(f.store.Experiments(), f.store.Variants(), c, nil)
	first, err := svc.Assign(ctx, e.ID, "subject-1")
	require.NoError(t, err)
	second, err := svc.Assign(ctx, e.ID, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestAssignmentService_InactiveExperiments(t *testing.T) {
	ctx := context.Background()

	t.Run("draft serves control", func(t *testing.T) {
		f := newFixture(t)
		e := f.draft(t, entities.AllocationHash)
		v, err := f.assignments.Assign(ctx, e.ID, "subject-1")
		require.NoError(t, err)
		assert.True(t, v.IsControl)
	})

	t.Run("completed serves winner", func(t *testing.T) {
		f := newFixture(t)
		e, _, treatment := f.running(t, entities.AllocationHash)
		_, err := f.experiments.Complete(ctx, e.ID, ptr(treatment.ID))
		require.NoError(t, err)

		for _, subject := range []string{"a", "b", "c", "d"} {
			v, err := f.assignments.Assign(ctx, e.ID, subject)
			require.NoError(t, err)
			assert.Equal(t, treatment.ID, v.ID)
		}
	})
}

func TestAssignmentService_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e, _, _ := f.running(t, entities.AllocationHash)

	_, err := f.assignments.Assign(ctx, e.ID, " ")
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.assignments.Assign(ctx, "missing", "subject-1")
	assert.True(t, apperrors.IsNotFound(err))
}
