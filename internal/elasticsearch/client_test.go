package elasticsearch_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/trend-affiliate-report/internal/elasticsearch"
	"github.com/DeafMist/trend-affiliate-report/internal/logger"
	"github.com/DeafMist/trend-affiliate-report/internal/models"
)

type fakeES struct {
	mu       sync.Mutex
	docs     map[string]map[string]any
	deleted  []int64
	failNext bool
	queries  []map[string]any
	maxDocs  []string
}

func (f *fakeES) server(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Elastic-Product", "Elasticsearch")
			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, req)
		})
	})
	r.Head("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Put("/{index}/_doc/{id}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failNext {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"mapper_parsing_exception"}`))
			return
		}
		body, _ := io.ReadAll(req.Body)
		var doc map[string]any
		_ = json.Unmarshal(body, &doc)
		f.docs[chi.URLParam(req, "index")+"/"+chi.URLParam(req, "id")] = doc
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})
	r.Post("/{index}/_delete_by_query", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var q map[string]any
		_ = json.NewDecoder(req.Body).Decode(&q)
		f.queries = append(f.queries, q)
		f.maxDocs = append(f.maxDocs, req.URL.Query().Get("max_docs"))
		n := int64(0)
		if len(f.deleted) > 0 {
			n, f.deleted = f.deleted[0], f.deleted[1:]
		}
		_ = json.NewEncoder(w).Encode(map[string]int64{"deleted": n})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestPublishRowsOverwritesSameDayKeyword(t *testing.T) {
	fake := &fakeES{docs: map[string]map[string]any{}}
	srv := fake.server(t)

	client, err := elasticsearch.New(srv.URL, "trending_affiliates", logger.Discard())
	require.NoError(t, err)
	require.NoError(t, client.Ping(context.Background()))

	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	rows := []models.ResolvedRow{
		models.NewResolvedRow(ts, "RX100", "r1", "a1"),
		models.NewResolvedRow(ts.Add(time.Hour), "RX100", "r2", "a2"),
		models.NewResolvedRow(ts, "iPad", "", "a3"),
	}
	require.NoError(t, client.PublishRows(context.Background(), rows))

	require.Len(t, fake.docs, 2)
	doc := fake.docs["trending_affiliates/"+rows[0].ID()]
	require.Equal(t, "RX100", doc["keyword"])
	require.Equal(t, "r2", doc["rakuten_url"])
	require.Equal(t, "2024-05-01", doc["date"])
}

func TestIndexRowReportsErrors(t *testing.T) {
	fake := &fakeES{docs: map[string]map[string]any{}, failNext: true}
	srv := fake.server(t)

	client, err := elasticsearch.New(srv.URL, "trending_affiliates", logger.Discard())
	require.NoError(t, err)

	err = client.IndexRow(context.Background(), models.NewResolvedRow(time.Now(), "RX100", "", "a"))
	require.ErrorContains(t, err, "mapper_parsing_exception")
}

func TestDeleteOlderThanLoopsUntilShortBatch(t *testing.T) {
	fake := &fakeES{docs: map[string]map[string]any{}, deleted: []int64{10, 10, 3}}
	srv := fake.server(t)

	client, err := elasticsearch.New(srv.URL, "trending_affiliates", logger.Discard())
	require.NoError(t, err)

	before := time.Now().Add(-24 * time.Hour).UTC()
	deleted, err := client.DeleteOlderThan(context.Background(), 24*time.Hour, 10)
	require.NoError(t, err)
	require.Equal(t, int64(23), deleted)
	require.Equal(t, []string{"10", "10", "10"}, fake.maxDocs)

	require.Len(t, fake.queries, 3)
	rangeQuery := fake.queries[0]["query"].(map[string]any)["range"].(map[string]any)
	field, ok := rangeQuery[models.TimestampField].(map[string]any)
	require.True(t, ok, "range must target the row timestamp field")

	cutoff, err := time.Parse(time.RFC3339, field["lt"].(string))
	require.NoError(t, err)
	require.WithinDuration(t, before, cutoff, time.Minute)
}

func TestTimestampFieldMatchesRowEncoding(t *testing.T) {
	raw, err := json.Marshal(models.NewResolvedRow(time.Now(), "RX100", "", "a"))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	_, err = time.Parse(time.RFC3339, doc[models.TimestampField].(string))
	require.NoError(t, err)
}
