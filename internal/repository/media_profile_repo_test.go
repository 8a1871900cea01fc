package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/driftserve/drift/internal/models"
)

func setupProfileTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.MediaProfileRecord{})
	require.NoError(t, err)

	return db
}

func profileRecord(mediaID string) *models.MediaProfileRecord {
	return &models.MediaProfileRecord{
		MediaID:     mediaID,
		Path:        "/media/" + mediaID + ".mkv",
		Fingerprint: "4000000-1700000000",
		Profile:     []byte(`{"container":"mkv"}`),
		ProbedAt:    models.Now(),
		ProbeMs:     120,
	}
}

func TestMediaProfileRepo_UpsertAndGet(t *testing.T) {
	db := setupProfileTestDB(t)
	repo := NewMediaProfileRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, profileRecord("m1")))

	found, err := repo.GetByMediaID(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "4000000-1700000000", found.Fingerprint)
	assert.Equal(t, []byte(`{"container":"mkv"}`), found.Profile)
}

func TestMediaProfileRepo_GetMissingReturnsNil(t *testing.T) {
	db := setupProfileTestDB(t)
	repo := NewMediaProfileRepository(db)

	found, err := repo.GetByMediaID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestMediaProfileRepo_UpsertReplacesByMediaID(t *testing.T) {
	db := setupProfileTestDB(t)
	repo := NewMediaProfileRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, profileRecord("m1")))

	updated := profileRecord("m1")
	updated.Fingerprint = "5000000-1800000000"
	updated.Profile = []byte(`{"container":"mp4"}`)
	require.NoError(t, repo.Upsert(ctx, updated))

	found, err := repo.GetByMediaID(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "5000000-1800000000", found.Fingerprint)

	var count int64
	require.NoError(t, db.Model(&models.MediaProfileRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestMediaProfileRepo_UpsertValidation(t *testing.T) {
	db := setupProfileTestDB(t)
	repo := NewMediaProfileRepository(db)

	rec := profileRecord("")
	err := repo.Upsert(context.Background(), rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMediaIDRequired)
}

func TestMediaProfileRepo_RecordHit(t *testing.T) {
	db := setupProfileTestDB(t)
	repo := NewMediaProfileRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, profileRecord("m1")))
	require.NoError(t, repo.RecordHit(ctx, "m1"))
	require.NoError(t, repo.RecordHit(ctx, "m1"))

	found, err := repo.GetByMediaID(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(2), found.HitCount)
}

func TestMediaProfileRepo_Delete(t *testing.T) {
	db := setupProfileTestDB(t)
	repo := NewMediaProfileRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, profileRecord("m1")))
	require.NoError(t, repo.Delete(ctx, "m1"))

	found, err := repo.GetByMediaID(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestMediaProfileRepo_DeleteExpired(t *testing.T) {
	db := setupProfileTestDB(t)
	repo := NewMediaProfileRepository(db)
	ctx := context.Background()

	expired := profileRecord("old")
	past := models.Time(time.Now().Add(-time.Hour))
	expired.ExpiresAt = &past
	require.NoError(t, repo.Upsert(ctx, expired))

	fresh := profileRecord("fresh")
	future := models.Time(time.Now().Add(time.Hour))
	fresh.ExpiresAt = &future
	require.NoError(t, repo.Upsert(ctx, fresh))

	// Records without an expiry never expire.
	require.NoError(t, repo.Upsert(ctx, profileRecord("pinned")))

	removed, err := repo.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	found, err := repo.GetByMediaID(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, found)

	for _, id := range []string{"fresh", "pinned"} {
		found, err := repo.GetByMediaID(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, found, id)
	}
}
