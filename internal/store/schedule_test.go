package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"esl-sync-service/internal/model"
	"esl-sync-service/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleAdvanceIsCompareAndSwap(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, db)
	repo := NewScheduleRepository(db)

	due := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s := &model.PriceSchedule{
		TenantID:      tenant.ID,
		Name:          "morning",
		StartAt:       due,
		Repeat:        model.RepeatDaily,
		Windows:       []model.TimeWindow{{Start: "09:00"}},
		NextTriggerAt: &due,
		NextAction:    model.ActionApply,
		Active:        true,
	}
	require.NoError(t, repo.Create(ctx, s))

	list, err := repo.ListDue(ctx, due.Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = repo.ListDue(ctx, due)
	require.NoError(t, err)
	require.Len(t, list, 1)

	next := due.Add(24 * time.Hour)
	ok, err := repo.Advance(ctx, s.ID, due, &next, model.ActionApply, "", due)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Advance(ctx, s.ID, due, &next, model.ActionApply, "", due)
	require.NoError(t, err)
	assert.False(t, ok, "a second advance from the same previous trigger loses")

	stored, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.NextTriggerAt)
	assert.True(t, stored.NextTriggerAt.Equal(next))

	ok, err = repo.Advance(ctx, s.ID, next, nil, "", "", next)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err = repo.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Nil(t, stored.NextTriggerAt)
}

func TestScheduleDeleteIsTenantScoped(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, db)
	other := testutil.CreateTenant(t, db)
	repo := NewScheduleRepository(db)

	due := time.Now().UTC()
	s := &model.PriceSchedule{TenantID: tenant.ID, Name: "x", StartAt: due, Repeat: model.RepeatNone, NextTriggerAt: &due, Active: true}
	require.NoError(t, repo.Create(ctx, s))

	assert.ErrorIs(t, repo.Delete(ctx, other.ID, s.ID), ErrNotFound)
	require.NoError(t, repo.Delete(ctx, tenant.ID, s.ID))

	_, err := repo.GetForTenant(ctx, tenant.ID, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := repo.ListDue(ctx, due.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTenantMergeMetadata(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, db,
		testutil.WithSource(model.SourceSquare),
		testutil.WithMeta(model.MetaTimezone, "Asia/Tokyo"),
		testutil.WithMeta(model.MetaAccessToken, "old"))
	repo := NewTenantRepository(db)

	_, err := repo.MergeMetadata(ctx, tenant.ID, map[string]interface{}{
		model.MetaAccessToken:  "new",
		model.MetaRefreshToken: "r2",
	})
	require.NoError(t, err)

	stored, err := repo.Get(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", stored.AccessToken())
	assert.Equal(t, "r2", stored.RefreshToken())
	assert.Equal(t, "Asia/Tokyo", stored.Timezone())

	active, err := repo.ListActive(ctx, model.SourceSquare)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, repo.SetActive(ctx, tenant.ID, false))
	active, err = repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestTenantMergeMetadataKeepsConcurrentWrites(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, db, testutil.WithMeta(model.MetaTimezone, "Asia/Tokyo"))
	repo := NewTenantRepository(db)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.MergeMetadata(ctx, tenant.ID, map[string]interface{}{fmt.Sprintf("key_%d", i): "v"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := repo.MergeMetadata(ctx, tenant.ID, map[string]interface{}{model.MetaAccessToken: "a1"})
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		assert.Equal(t, "v", stored.Metadata[fmt.Sprintf("key_%d", i)])
	}
	assert.Equal(t, "Asia/Tokyo", stored.Timezone())
	assert.Equal(t, "a1", stored.AccessToken())

	_, err = repo.MergeMetadata(ctx, uuid.New(), map[string]interface{}{"k": "v"})
	assert.ErrorIs(t, err, ErrNotFound)
}
