package affiliate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/DeafMist/trend-affiliate-report/internal/processing"
)

const (
	// DefaultRakutenBaseURL is the Ichiba web service host.
	DefaultRakutenBaseURL = "https://app.rakuten.co.jp"

	searchPath  = "/services/api/IchibaItem/Search/20220601"
	rankingPath = "/services/api/IchibaItem/Ranking/20170628"

	// MaxSearchAttempts bounds every keyword lookup, including shortened retries.
	MaxSearchAttempts = 5
	// RateLimitBackoff is multiplied by the attempt number after a 429.
	RateLimitBackoff = 1200 * time.Millisecond
	// shortenThreshold is the sanitized length above which a 400 triggers shortening.
	shortenThreshold = 40

	requestTimeout = 10 * time.Second
)

// Status classifies how a lookup ended.
type Status int

const (
	// StatusFound means an item URL was returned.
	StatusFound Status = iota
	// StatusNoItems means the search succeeded with zero hits.
	StatusNoItems
	// StatusSkipped means credentials were missing and no call was made.
	StatusSkipped
	// StatusFailed means the API errored or retries ran out.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNoItems:
		return "no_items"
	case StatusSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Lookup is the outcome of a single keyword search.
type Lookup struct {
	URL      string
	Status   Status
	Attempts int
	Query    string
	Err      error
}

// RakutenOptions configures the Ichiba client.
type RakutenOptions struct {
	AppID       string
	AffiliateID string
	BaseURL     string
	HTTPClient  *http.Client
	// Sleep waits between rate-limited attempts; nil uses a context-aware timer.
	Sleep func(context.Context, time.Duration) error
}

// Rakuten talks to the Ichiba item search and ranking APIs.
type Rakuten struct {
	appID       string
	affiliateID string
	baseURL     string
	http        *http.Client
	sleep       func(context.Context, time.Duration) error
	log         *slog.Logger
}

// NewRakuten builds a client. Missing credentials are allowed; calls then skip.
func NewRakuten(opts RakutenOptions, log *slog.Logger) *Rakuten {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultRakutenBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: requestTimeout}
	}
	if opts.Sleep == nil {
		opts.Sleep = SleepContext
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Rakuten{
		appID:       opts.AppID,
		affiliateID: opts.AffiliateID,
		baseURL:     opts.BaseURL,
		http:        opts.HTTPClient,
		sleep:       opts.Sleep,
		log:         log,
	}
}

type itemsResponse struct {
	Items []struct {
		Item struct {
			ItemName     string `json:"itemName"`
			ItemURL      string `json:"itemUrl"`
			AffiliateURL string `json:"affiliateUrl"`
		} `json:"Item"`
	} `json:"Items"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// Search finds the most reviewed item for keyword and returns its affiliate URL.
// 429 responses back off linearly; a 400 on a long query retries with a
// shortened keyword. Everything else ends the lookup without raising.
func (r *Rakuten) Search(ctx context.Context, keyword string) Lookup {
	if r.appID == "" || r.affiliateID == "" {
		r.log.Warn("rakuten ids not set, skipping rakuten url", slog.String("keyword", keyword))
		return Lookup{Status: StatusSkipped}
	}

	query := processing.SanitizeKeyword(keyword)
	result := Lookup{Query: query}

	for attempt := 1; attempt <= MaxSearchAttempts; attempt++ {
		result.Attempts = attempt

		var resp itemsResponse
		err := r.get(ctx, searchPath, url.Values{
			"applicationId": {r.appID},
			"affiliateId":   {r.affiliateID},
			"format":        {"json"},
			"keyword":       {query},
			"hits":          {"1"},
			"sort":          {"-reviewCount"},
		}, &resp)

		if err == nil {
			if len(resp.Items) == 0 {
				r.log.Info("rakuten: no items", slog.String("query", query))
				result.Status = StatusNoItems
				return result
			}
			item := resp.Items[0].Item
			result.URL = item.AffiliateURL
			if result.URL == "" {
				result.URL = item.ItemURL
			}
			result.Status = StatusFound
			return result
		}

		result.Err = err
		var se *statusError
		if !errors.As(err, &se) {
			r.log.Error("rakuten api error", slog.String("query", query), slog.Any("err", err))
			result.Status = StatusFailed
			return result
		}

		switch {
		case se.code == http.StatusTooManyRequests:
			if attempt == MaxSearchAttempts {
				break
			}
			wait := RateLimitBackoff * time.Duration(attempt)
			r.log.Warn("rakuten 429, backing off",
				slog.String("query", query),
				slog.Duration("retry_in", wait),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", MaxSearchAttempts),
			)
			if err := r.sleep(ctx, wait); err != nil {
				result.Err = err
				result.Status = StatusFailed
				return result
			}
			continue
		case se.code == http.StatusBadRequest && utf8.RuneCountInString(query) > shortenThreshold:
			query = processing.ShortenKeyword(query)
			result.Query = query
			r.log.Warn("rakuten 400, retrying with shortened keyword",
				slog.String("query", query),
				slog.Int("attempt", attempt),
			)
			continue
		default:
			r.log.Error("rakuten api http error",
				slog.String("query", query),
				slog.Int("status", se.code),
				slog.Any("err", err),
			)
			result.Status = StatusFailed
			return result
		}
	}

	r.log.Error("rakuten retries exhausted",
		slog.String("query", query),
		slog.Int("attempts", result.Attempts),
		slog.Any("err", result.Err),
	)
	result.Status = StatusFailed
	return result
}

// Ranking returns up to limit item names from the overall Ichiba ranking.
// It is the fallback keyword source when no trends are available.
func (r *Rakuten) Ranking(ctx context.Context, limit int) []string {
	if limit <= 0 {
		return nil
	}
	if r.appID == "" {
		r.log.Warn("rakuten app id missing, cannot fall back to rakuten ranking")
		return nil
	}

	var resp itemsResponse
	err := r.get(ctx, rankingPath, url.Values{
		"applicationId": {r.appID},
		"format":        {"json"},
		"genreId":       {"0"},
		"page":          {"1"},
	}, &resp)
	if err != nil {
		r.log.Error("rakuten ranking fallback failed", slog.Any("err", err))
		return nil
	}

	names := make([]string, 0, limit)
	for _, it := range resp.Items {
		if len(names) >= limit {
			break
		}
		if name := processing.CleanTerm(it.Item.ItemName); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func (r *Rakuten) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	res, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &statusError{code: res.StatusCode, body: strconv.Quote(string(body))}
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
