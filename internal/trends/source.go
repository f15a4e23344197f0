package trends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/DeafMist/trend-affiliate-report/internal/dedupe"
	"github.com/DeafMist/trend-affiliate-report/internal/processing"
)

// DefaultBaseURL is the Google Trends host.
const DefaultBaseURL = "https://trends.google.com"

// xssiPrefix guards the JSON API responses and must be stripped before decoding.
var xssiPrefix = []byte(")]}'")

// Options configures the trends source.
type Options struct {
	BaseURL    string
	Geo        string
	Language   string
	Location   *time.Location
	HTTPClient *http.Client
}

// Source fetches currently trending search terms for one country.
type Source struct {
	baseURL  string
	geo      string
	language string
	tzOffset int
	http     *http.Client
	log      *slog.Logger
}

type attempt struct {
	name  string
	fetch func(ctx context.Context) ([]string, error)
}

// New builds a Source. Zero options default to Japan.
func New(opts Options, log *slog.Logger) *Source {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Geo == "" {
		opts.Geo = "JP"
	}
	if opts.Language == "" {
		opts.Language = "ja-JP"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	_, offset := time.Now().In(opts.Location).Zone()
	return &Source{
		baseURL:  opts.BaseURL,
		geo:      opts.Geo,
		language: opts.Language,
		tzOffset: -offset / 60,
		http:     opts.HTTPClient,
		log:      log,
	}
}

// Fetch tries the daily RSS feed, the daily trends API and the realtime
// trends API in that order and returns the first non-empty list, cleaned,
// de-duplicated and capped at limit. Failures are logged, never returned;
// an empty result means the caller should use its fallback.
func (s *Source) Fetch(ctx context.Context, limit int) []string {
	attempts := []attempt{
		{name: "daily_rss", fetch: s.fetchRSS},
		{name: "daily_trends", fetch: s.fetchDaily},
		{name: "realtime_trends", fetch: s.fetchRealtime},
	}

	for i, a := range attempts {
		terms, err := a.fetch(ctx)
		if err != nil {
			level := slog.LevelWarn
			if i == len(attempts)-1 {
				level = slog.LevelError
			}
			s.log.Log(ctx, level, "trend source failed", slog.String("source", a.name), slog.Any("err", err))
			continue
		}

		terms = normalize(terms, limit)
		if len(terms) == 0 {
			s.log.Info("trend source returned nothing", slog.String("source", a.name))
			continue
		}

		s.log.Info("trends fetched", slog.String("source", a.name), slog.Int("count", len(terms)))
		return terms
	}
	return nil
}

func (s *Source) fetchRSS(ctx context.Context) ([]string, error) {
	u := s.baseURL + "/trending/rss?" + url.Values{"geo": {s.geo}}.Encode()

	parser := gofeed.NewParser()
	parser.Client = s.http
	feed, err := parser.ParseURLWithContext(u, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse trends feed: %w", err)
	}

	out := make([]string, 0, len(feed.Items))
	for _, item := range feed.Items {
		out = append(out, item.Title)
	}
	return out, nil
}

func (s *Source) fetchDaily(ctx context.Context) ([]string, error) {
	var payload struct {
		Default struct {
			TrendingSearchesDays []struct {
				TrendingSearches []struct {
					Title struct {
						Query string `json:"query"`
					} `json:"title"`
				} `json:"trendingSearches"`
			} `json:"trendingSearchesDays"`
		} `json:"default"`
	}

	err := s.getJSON(ctx, "/trends/api/dailytrends", url.Values{
		"hl":  {s.language},
		"tz":  {strconv.Itoa(s.tzOffset)},
		"geo": {s.geo},
		"ns":  {"15"},
	}, &payload)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, day := range payload.Default.TrendingSearchesDays {
		for _, search := range day.TrendingSearches {
			out = append(out, search.Title.Query)
		}
	}
	return out, nil
}

func (s *Source) fetchRealtime(ctx context.Context) ([]string, error) {
	var payload struct {
		StorySummaries struct {
			TrendingStories []struct {
				Title json.RawMessage `json:"title"`
			} `json:"trendingStories"`
		} `json:"storySummaries"`
	}

	err := s.getJSON(ctx, "/trends/api/realtimetrends", url.Values{
		"hl":   {s.language},
		"tz":   {strconv.Itoa(s.tzOffset)},
		"cat":  {"all"},
		"fi":   {"0"},
		"fs":   {"0"},
		"geo":  {s.geo},
		"ri":   {"300"},
		"rs":   {"20"},
		"sort": {"0"},
	}, &payload)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(payload.StorySummaries.TrendingStories))
	for _, story := range payload.StorySummaries.TrendingStories {
		out = append(out, storyTitle(story.Title))
	}
	return out, nil
}

// storyTitle accepts either a plain string or an object carrying a query.
func storyTitle(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Query
	}
	return string(raw)
}

func (s *Source) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	res, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s returned %s", path, res.Status)
	}

	if bytes.HasPrefix(body, xssiPrefix) {
		if nl := bytes.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		} else {
			body = bytes.TrimPrefix(body, xssiPrefix)
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func normalize(terms []string, limit int) []string {
	cleaned := make([]string, 0, len(terms))
	for _, t := range terms {
		if c := processing.CleanTerm(t); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	cleaned = dedupe.Unique(cleaned)
	if limit > 0 && len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return cleaned
}
