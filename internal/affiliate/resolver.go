package affiliate

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/DeafMist/trend-affiliate-report/internal/models"
)

// PaceDelay is the fixed pause between keyword resolutions.
const PaceDelay = 800 * time.Millisecond

// Searcher resolves a keyword to a retailer listing.
type Searcher interface {
	Search(ctx context.Context, keyword string) Lookup
}

// Resolver turns keywords into rows carrying both retailer links.
type Resolver struct {
	search       Searcher
	associateTag string
	pace         time.Duration
	sleep        func(context.Context, time.Duration) error
	log          *slog.Logger
}

// NewResolver wires a searcher and the Amazon associate tag.
// A nil sleep uses SleepContext.
func NewResolver(search Searcher, associateTag string, sleep func(context.Context, time.Duration) error, log *slog.Logger) *Resolver {
	if sleep == nil {
		sleep = SleepContext
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{
		search:       search,
		associateTag: associateTag,
		pace:         PaceDelay,
		sleep:        sleep,
		log:          log,
	}
}

// Resolve looks up every keyword in order, pausing PaceDelay between them.
// Lookup failures become rows without a Rakuten URL; only cancellation
// stops the loop, in which case the rows resolved so far are returned.
func (r *Resolver) Resolve(ctx context.Context, keywords []string, ts time.Time) ([]models.ResolvedRow, error) {
	rows := make([]models.ResolvedRow, 0, len(keywords))
	for i, keyword := range keywords {
		if i > 0 {
			if err := r.sleep(ctx, r.pace); err != nil {
				return rows, err
			}
		}

		lookup := r.search.Search(ctx, keyword)
		r.log.Debug("keyword resolved",
			slog.String("keyword", keyword),
			slog.String("status", lookup.Status.String()),
			slog.Int("attempts", lookup.Attempts),
		)

		rows = append(rows, models.NewResolvedRow(ts, keyword, lookup.URL, AmazonSearchURL(keyword, r.associateTag)))
	}
	return rows, nil
}
