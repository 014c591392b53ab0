//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/smarttracker/internal/domain"
)

func TestRepositoryRoundTripsDocument(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	repo := NewRepository(pool, "activities")
	require.NoError(t, repo.Initialize(ctx))
	require.NoError(t, repo.Initialize(ctx), "initialize must be idempotent")

	empty, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, empty)

	now := time.Now().UTC().Truncate(time.Millisecond)
	image := "https://example.com/a.png"
	activities := []domain.Activity{
		{ID: uuid.NewString(), Title: "first", Description: "a", Latitude: 40.7, Longitude: -74.0, UserID: "u1", ImageURL: &image, Timestamp: now, CreatedAt: now, UpdatedAt: now},
		{ID: uuid.NewString(), Title: "second", Description: "b", Latitude: 0, Longitude: 0, UserID: domain.AnonymousUserID, Timestamp: now, CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, repo.Save(ctx, activities))

	stored, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, activities[0].ID, stored[0].ID)
	require.Equal(t, activities[1].ID, stored[1].ID)
	require.True(t, activities[0].CreatedAt.Equal(stored[0].CreatedAt))
	require.Nil(t, stored[1].ImageURL)

	other := NewRepository(pool, "other")
	_, err = other.Load(ctx)
	require.Error(t, err)
	require.Error(t, other.Save(ctx, activities), "save must not create a missing document")
}

func TestRepositoryStoresHumanReadableJSON(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	repo := NewRepository(pool, "activities")
	require.NoError(t, repo.Initialize(ctx))
	require.NoError(t, repo.Save(ctx, []domain.Activity{{ID: "a1", Title: "t", Description: "d", UserID: "anonymous"}}))

	var body []byte
	require.NoError(t, pool.QueryRow(ctx, `SELECT body FROM activity_documents WHERE name='activities'`).Scan(&body))

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	require.Len(t, raw, 1)
	require.Contains(t, raw[0], "imageUrl")
	require.Nil(t, raw[0]["imageUrl"])
}

func setupPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("smarttracker"),
		postgrescontainer.WithUsername("smarttracker"),
		postgrescontainer.WithPassword("smarttracker"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
