package trigger

import (
	"context"
	"fmt"
	"time"
)

// Teaser is an upcoming-content entry shown on the public calendar.
type Teaser struct {
	Slug      string    `db:"slug" json:"slug" validate:"required"`
	Locale    string    `db:"locale" json:"locale" validate:"oneof=en es"`
	Title     string    `db:"title" json:"title" validate:"required"`
	PublishOn time.Time `db:"publish_on" json:"publish_on"`
}

// TeaserSource lists the teasers that should be on the calendar.
type TeaserSource interface {
	UpcomingTeasers(ctx context.Context, now time.Time) ([]Teaser, error)
}

// TeaserStore is the calendar table.
type TeaserStore interface {
	TeaserExists(ctx context.Context, slug, locale string) (bool, error)
	InsertTeaser(ctx context.Context, t Teaser) error
}

// StaticTeasers is a fixed teaser list, e.g. loaded from a file at startup.
// Teasers whose publish date has passed are not offered.
type StaticTeasers []Teaser

func (s StaticTeasers) UpcomingTeasers(ctx context.Context, now time.Time) ([]Teaser, error) {
	var out []Teaser
	for _, t := range s {
		if !t.PublishOn.Before(now.Truncate(day)) {
			out = append(out, t)
		}
	}
	return out, nil
}

// TeaserSync copies teasers into the calendar, skipping those already present.
type TeaserSync struct {
	Source TeaserSource
	Store  TeaserStore
}

func (s *TeaserSync) Name() string { return "teaser-sync" }

func (s *TeaserSync) Run(ctx context.Context, now time.Time) (Result, error) {
	teasers, err := s.Source.UpcomingTeasers(ctx, now)
	if err != nil {
		return Result{}, fmt.Errorf("list teasers: %w", err)
	}

	inserted, skipped := 0, 0
	for _, t := range teasers {
		exists, err := s.Store.TeaserExists(ctx, t.Slug, t.Locale)
		if err != nil {
			return Result{Fired: inserted > 0}, fmt.Errorf("check teaser %s/%s: %w", t.Slug, t.Locale, err)
		}
		if exists {
			skipped++
			continue
		}
		if err := s.Store.InsertTeaser(ctx, t); err != nil {
			return Result{Fired: inserted > 0}, fmt.Errorf("insert teaser %s/%s: %w", t.Slug, t.Locale, err)
		}
		inserted++
	}
	return Result{Fired: inserted > 0, Detail: fmt.Sprintf("inserted %d, skipped %d", inserted, skipped)}, nil
}
