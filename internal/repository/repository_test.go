package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-orchestrator/internal/model"
	"github.com/unclebandit/outreach-orchestrator/internal/trigger"
)

func TestTargetQuery(t *testing.T) {
	tests := []struct {
		name  string
		seg   Segment
		query string
		args  []any
	}{
		{
			name:  "everything",
			query: `SELECT id, name, email, net_worth, owner_occupied, industry, vertical, city FROM targets WHERE 1=1 ORDER BY id`,
			args:  []any{},
		},
		{
			name:  "industry and city",
			seg:   Segment{Industry: "dental", City: "Austin"},
			query: `SELECT id, name, email, net_worth, owner_occupied, industry, vertical, city FROM targets WHERE 1=1 AND industry=$1 AND city=$2 ORDER BY id`,
			args:  []any{"dental", "Austin"},
		},
		{
			name:  "all filters with limit",
			seg:   Segment{Industry: "legal", Vertical: "family-law", City: "Austin", Limit: 50},
			query: `SELECT id, name, email, net_worth, owner_occupied, industry, vertical, city FROM targets WHERE 1=1 AND industry=$1 AND vertical=$2 AND city=$3 ORDER BY id LIMIT $4`,
			args:  []any{"legal", "family-law", "Austin", 50},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := targetQuery(tt.seg)
			assert.Equal(t, tt.query, query)
			assert.Equal(t, tt.args, args)
		})
	}
}

type countingLister struct {
	calls int
	err   error
}

func (c *countingLister) ListTargets(ctx context.Context, seg Segment) ([]model.TargetEntity, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []model.TargetEntity{{ID: seg.Industry + "-1"}}, nil
}

func TestCachedTargetSource(t *testing.T) {
	lister := &countingLister{}
	src := NewCachedTargetSource(lister, Segment{Industry: "dental"}, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		targets, err := src.LoadTargets(ctx)
		require.NoError(t, err)
		require.Len(t, targets, 1)
		assert.Equal(t, "dental-1", targets[0].ID)
	}
	assert.Equal(t, 1, lister.calls)

	_, err := src.ListTargets(ctx, Segment{Industry: "legal"})
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls, "another segment is another key")

	src.Invalidate(Segment{Industry: "dental"})
	_, err = src.LoadTargets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, lister.calls)
}

func TestCachedTargetSource_ErrorsAreNotCached(t *testing.T) {
	lister := &countingLister{err: errors.New("connection refused")}
	src := NewCachedTargetSource(lister, Segment{}, 0)

	_, err := src.LoadTargets(context.Background())
	require.Error(t, err)

	lister.err = nil
	targets, err := src.LoadTargets(context.Background())
	require.NoError(t, err)
	assert.Len(t, targets, 1)
	assert.Equal(t, 2, lister.calls)
	assert.Equal(t, 10*time.Minute, src.TTL)
}

// openTestDB applies the schema to the database at DATABASE_URL.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile("../../seed/schema.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)
	return db
}

func TestTargetRepository_Postgres(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(`DELETE FROM targets WHERE id LIKE 'repo-test-%'`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO targets (id, name, email, net_worth, owner_occupied, industry, vertical, city) VALUES
        ('repo-test-1', 'A', 'a@example.com', 'high', TRUE, 'repo-test', 'v1', 'Austin'),
        ('repo-test-2', 'B', 'b@example.com', 'low', FALSE, 'repo-test', 'v2', 'Dallas')`)
	require.NoError(t, err)

	repo := &TargetRepository{DB: db, Segment: Segment{Industry: "repo-test"}}
	targets, err := repo.LoadTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, model.TierHighOwnerOccupied, targets[0].Tier())

	targets, err = repo.ListTargets(context.Background(), Segment{Industry: "repo-test", City: "Dallas"})
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "repo-test-2", targets[0].ID)
}

func TestTeaserRepository_Postgres(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(`DELETE FROM calendar_teasers WHERE slug = 'repo-test'`)
	require.NoError(t, err)

	repo := &TeaserRepository{DB: db, Logger: zerolog.Nop()}
	ctx := context.Background()
	publish := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)

	exists, err := repo.TeaserExists(ctx, "repo-test", "en")
	require.NoError(t, err)
	assert.False(t, exists)

	teaser := trigger.Teaser{Slug: "repo-test", Locale: "en", Title: "Launch", PublishOn: publish}
	require.NoError(t, repo.InsertTeaser(ctx, teaser))
	require.NoError(t, repo.InsertTeaser(ctx, teaser), "a second insert is a no-op")

	exists, err = repo.TeaserExists(ctx, "repo-test", "en")
	require.NoError(t, err)
	assert.True(t, exists)

	listed, err := repo.ListTeasers(ctx, time.Now())
	require.NoError(t, err)
	var found int
	for _, l := range listed {
		if l.Slug == "repo-test" {
			found++
		}
	}
	assert.Equal(t, 1, found)
}

func TestOpsRepository_Postgres(t *testing.T) {
	db := openTestDB(t)
	repo := &OpsRepository{DB: db}
	ctx := context.Background()

	_, err := db.Exec(`DELETE FROM deadlines WHERE id LIKE 'repo-test-%'`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO deadlines (id, title, due_at) VALUES
        ('repo-test-soon', 'Soon', NOW() + INTERVAL '1 day'),
        ('repo-test-past', 'Past', NOW() - INTERVAL '1 day')`)
	require.NoError(t, err)

	deadlines, err := repo.UpcomingDeadlines(ctx, time.Now())
	require.NoError(t, err)
	var ids []string
	for _, d := range deadlines {
		ids = append(ids, d.ID)
	}
	assert.Contains(t, ids, "repo-test-soon")
	assert.NotContains(t, ids, "repo-test-past")

	_, err = db.Exec(`INSERT INTO deploys (id, service, state, created_at) VALUES ('repo-test-deploy', 'web', 'failed', NOW() + INTERVAL '1 hour')
        ON CONFLICT (id) DO UPDATE SET created_at = EXCLUDED.created_at`)
	require.NoError(t, err)
	deploy, err := repo.LatestDeploy(ctx)
	require.NoError(t, err)
	require.NotNil(t, deploy)
	assert.Equal(t, "repo-test-deploy", deploy.ID)
	assert.Equal(t, trigger.DeployFailed, deploy.State)

	_, err = repo.PendingDMs(ctx)
	require.NoError(t, err)
}
