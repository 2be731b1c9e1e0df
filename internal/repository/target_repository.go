package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/unclebandit/outreach-orchestrator/internal/cache"
	"github.com/unclebandit/outreach-orchestrator/internal/model"
)

// Segment narrows the business records a campaign is run against. Empty fields match everything.
type Segment struct {
	Industry string `koanf:"industry" json:"industry,omitempty"`
	Vertical string `koanf:"vertical" json:"vertical,omitempty"`
	City     string `koanf:"city" json:"city,omitempty"`
	Limit    int    `koanf:"limit" json:"limit,omitempty" validate:"gte=0"`
}

// Key identifies the segment in caches.
func (s Segment) Key() string {
	return fmt.Sprintf("targets:%s|%s|%s|%d", s.Industry, s.Vertical, s.City, s.Limit)
}

// TargetLister lists business records of a segment.
type TargetLister interface {
	ListTargets(ctx context.Context, seg Segment) ([]model.TargetEntity, error)
}

// TargetRepository reads business records from the targets table.
type TargetRepository struct {
	DB      *sql.DB
	Segment Segment
}

// ListTargets returns the targets of seg ordered by id, so repeated runs build
// the same campaign fingerprint.
func (r *TargetRepository) ListTargets(ctx context.Context, seg Segment) ([]model.TargetEntity, error) {
	query, args := targetQuery(seg)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	targets := []model.TargetEntity{}
	for rows.Next() {
		var t model.TargetEntity
		var netWorth string
		if err := rows.Scan(&t.ID, &t.Name, &t.Email, &netWorth, &t.OwnerOccupied, &t.Industry, &t.Vertical, &t.City); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		t.NetWorth = model.NetWorth(strings.ToLower(netWorth))
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	return targets, nil
}

// LoadTargets lists the repository's configured segment.
func (r *TargetRepository) LoadTargets(ctx context.Context) ([]model.TargetEntity, error) {
	return r.ListTargets(ctx, r.Segment)
}

func targetQuery(seg Segment) (string, []any) {
	query := `SELECT id, name, email, net_worth, owner_occupied, industry, vertical, city FROM targets WHERE 1=1`
	args := []any{}
	argPos := 1

	if seg.Industry != "" {
		query += fmt.Sprintf(" AND industry=$%d", argPos)
		args = append(args, seg.Industry)
		argPos++
	}
	if seg.Vertical != "" {
		query += fmt.Sprintf(" AND vertical=$%d", argPos)
		args = append(args, seg.Vertical)
		argPos++
	}
	if seg.City != "" {
		query += fmt.Sprintf(" AND city=$%d", argPos)
		args = append(args, seg.City)
		argPos++
	}

	query += " ORDER BY id"
	if seg.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, seg.Limit)
	}
	return query, args
}

// CachedTargetSource memoizes segment lookups so that the cadence trigger and
// the ops endpoints do not hit the database on every tick.
type CachedTargetSource struct {
	Source  TargetLister
	Segment Segment
	TTL     time.Duration
	Cache   *cache.Cache[[]model.TargetEntity]
}

// NewCachedTargetSource wraps source with a fresh cache.
func NewCachedTargetSource(source TargetLister, seg Segment, ttl time.Duration) *CachedTargetSource {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedTargetSource{
		Source:  source,
		Segment: seg,
		TTL:     ttl,
		Cache:   cache.New[[]model.TargetEntity](),
	}
}

func (c *CachedTargetSource) ListTargets(ctx context.Context, seg Segment) ([]model.TargetEntity, error) {
	return cache.Cached(ctx, c.Cache, seg.Key(), c.TTL, func(ctx context.Context) ([]model.TargetEntity, error) {
		return c.Source.ListTargets(ctx, seg)
	})
}

func (c *CachedTargetSource) LoadTargets(ctx context.Context) ([]model.TargetEntity, error) {
	return c.ListTargets(ctx, c.Segment)
}

// Invalidate drops the cached lookup of seg.
func (c *CachedTargetSource) Invalidate(seg Segment) {
	c.Cache.Delete(seg.Key())
}
