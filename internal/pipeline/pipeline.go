package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/DeafMist/trend-affiliate-report/internal/models"
	"github.com/DeafMist/trend-affiliate-report/internal/notify"
	"github.com/DeafMist/trend-affiliate-report/internal/processing"
	"github.com/DeafMist/trend-affiliate-report/internal/report"
)

// ErrNoTrends is returned when neither the trends source nor the ranking
// fallback produced a single term. The empty dataset and notice mail have
// already been handled when it is returned.
var ErrNoTrends = errors.New("no trends available")

type TrendFetcher interface {
	Fetch(ctx context.Context, limit int) []string
}

type RankingFetcher interface {
	Ranking(ctx context.Context, limit int) []string
}

type LinkResolver interface {
	Resolve(ctx context.Context, keywords []string, ts time.Time) ([]models.ResolvedRow, error)
}

type Dataset interface {
	Append(rows []models.ResolvedRow) (int, error)
	Path() string
}

type Sender interface {
	Send(ctx context.Context, r notify.Report) error
}

// Sink receives resolved rows after they are stored. Sink errors never fail a run.
type Sink interface {
	PublishRows(ctx context.Context, rows []models.ResolvedRow) error
}

// Options are the run parameters.
type Options struct {
	TopN            int
	NoFilter        bool
	OutputDir       string
	SubjectTemplate string
	Location        *time.Location
	// MissingEmail lists the EMAIL keys that are not configured. Mail is
	// sent only when it is empty.
	MissingEmail []string
}

// Deps are the collaborators of a run. Mailer may be nil when MissingEmail is not empty.
type Deps struct {
	Trends   TrendFetcher
	Ranking  RankingFetcher
	Resolver LinkResolver
	Dataset  Dataset
	Mailer   Sender
	Sinks    []Sink
	Now      func() time.Time
}

// Pipeline runs one report.
type Pipeline struct {
	opts Options
	deps Deps
	log  *slog.Logger
}

func New(opts Options, deps Deps, log *slog.Logger) *Pipeline {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{opts: opts, deps: deps, log: log}
}

// Run fetches trends, resolves links, stores the rows and mails the report.
func (p *Pipeline) Run(ctx context.Context) error {
	ts := p.deps.Now().In(p.opts.Location)

	terms := p.deps.Trends.Fetch(ctx, p.opts.TopN)
	p.log.Info("trends", slog.Any("terms", terms))

	if len(terms) == 0 {
		p.log.Warn("no trends, falling back to rakuten ranking")
		terms = p.deps.Ranking.Ranking(ctx, p.opts.TopN)
		p.log.Info("fallback trends", slog.Any("terms", terms))
	}
	if len(terms) == 0 {
		return p.reportEmpty(ctx, ts)
	}

	keywords := processing.FilterProducts(terms, p.opts.NoFilter)
	p.log.Info("product-like terms", slog.Any("terms", keywords), slog.Bool("no_filter", p.opts.NoFilter))

	rows, resolveErr := p.deps.Resolver.Resolve(ctx, keywords, ts)
	if resolveErr != nil && len(rows) == 0 {
		return fmt.Errorf("resolve links: %w", resolveErr)
	}

	total, err := p.deps.Dataset.Append(rows)
	if err != nil {
		return fmt.Errorf("append dataset: %w", err)
	}
	p.log.Info("dataset updated", slog.String("path", p.deps.Dataset.Path()), slog.Int("rows", total), slog.Int("new", len(rows)))

	if resolveErr != nil {
		return fmt.Errorf("resolve links: %w", resolveErr)
	}

	p.publish(ctx, rows)

	var extras []string
	if snippets := report.BuildCopySnippets(rows); snippets != "" {
		extras, err = report.WriteSnippetFiles(p.opts.OutputDir, snippets)
		if err != nil {
			p.log.Error("write snippet files", slog.Any("err", err))
			extras = nil
		}
	}

	if !p.emailEnabled() {
		p.log.Warn("email not sent: EMAIL config incomplete")
		p.log.Info("done")
		return nil
	}

	plain, htmlBody := report.BuildEmailBodies(rows, ts)
	if err := p.deps.Mailer.Send(ctx, notify.Report{
		Subject:        report.Subject(p.opts.SubjectTemplate, ts),
		PlainBody:      plain,
		HTMLBody:       htmlBody,
		MainAttachment: p.deps.Dataset.Path(),
		Extras:         extras,
	}); err != nil {
		return err
	}

	p.log.Info("done")
	return nil
}

func (p *Pipeline) reportEmpty(ctx context.Context, ts time.Time) error {
	if _, err := p.deps.Dataset.Append(nil); err != nil {
		return fmt.Errorf("append dataset: %w", err)
	}

	if p.emailEnabled() {
		plain, htmlBody := report.BuildEmailBodies(nil, ts)
		err := p.deps.Mailer.Send(ctx, notify.Report{
			Subject:        report.Subject(p.opts.SubjectTemplate, ts),
			PlainBody:      plain,
			HTMLBody:       htmlBody,
			MainAttachment: p.deps.Dataset.Path(),
		})
		if err != nil {
			return errors.Join(ErrNoTrends, err)
		}
	}
	return ErrNoTrends
}

func (p *Pipeline) publish(ctx context.Context, rows []models.ResolvedRow) {
	if len(rows) == 0 {
		return
	}
	for _, s := range p.deps.Sinks {
		if err := s.PublishRows(ctx, rows); err != nil {
			p.log.Error("publish rows", slog.String("sink", fmt.Sprintf("%T", s)), slog.Any("err", err))
		}
	}
}

func (p *Pipeline) emailEnabled() bool {
	for _, key := range p.opts.MissingEmail {
		p.log.Warn("EMAIL config missing key", slog.String("key", key))
	}
	return len(p.opts.MissingEmail) == 0 && p.deps.Mailer != nil
}
