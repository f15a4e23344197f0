package store_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/DeafMist/trend-affiliate-report/internal/logger"
	"github.com/DeafMist/trend-affiliate-report/internal/models"
	"github.com/DeafMist/trend-affiliate-report/internal/store"
)

var jst = time.FixedZone("JST", 9*60*60)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(filepath.Join(t.TempDir(), "trending_affiliates.xlsx"), logger.Discard())
}

func TestAppendCreatesDataset(t *testing.T) {
	s := newStore(t)
	ts := time.Date(2024, 5, 1, 9, 30, 0, 0, jst)

	total, err := s.Append([]models.ResolvedRow{
		models.NewResolvedRow(ts, "RX100", "https://hb.afl.rakuten.co.jp/x", "https://www.amazon.co.jp/s?k=RX100"),
		models.NewResolvedRow(ts, "ドライヤー", "", "https://www.amazon.co.jp/s?k=x"),
	})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	records, err := s.Load()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, store.Record{
		Timestamp:  "2024-05-01 09:30:00+0900",
		Date:       "2024-05-01",
		Keyword:    "RX100",
		RakutenURL: "https://hb.afl.rakuten.co.jp/x",
		AmazonURL:  "https://www.amazon.co.jp/s?k=RX100",
	}, records[0])
	require.Equal(t, "", records[1].RakutenURL)
}

func TestAppendSameDayKeepsFirst(t *testing.T) {
	s := newStore(t)
	morning := time.Date(2024, 5, 1, 9, 0, 0, 0, jst)
	evening := time.Date(2024, 5, 1, 21, 0, 0, 0, jst)

	_, err := s.Append([]models.ResolvedRow{models.NewResolvedRow(morning, "RX100", "first-r", "first-a")})
	require.NoError(t, err)

	total, err := s.Append([]models.ResolvedRow{models.NewResolvedRow(evening, "RX100", "second-r", "second-a")})
	require.NoError(t, err)
	require.Equal(t, 1, total)

	records, err := s.Load()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "first-r", records[0].RakutenURL)
	require.Equal(t, "first-a", records[0].AmazonURL)
}

func TestAppendDedupesWithinBatchAndAcrossDays(t *testing.T) {
	s := newStore(t)
	day1 := time.Date(2024, 5, 1, 9, 0, 0, 0, jst)
	day2 := time.Date(2024, 5, 2, 9, 0, 0, 0, jst)

	total, err := s.Append([]models.ResolvedRow{
		models.NewResolvedRow(day1, "RX100", "a", "a"),
		models.NewResolvedRow(day1, "RX100", "b", "b"),
		models.NewResolvedRow(day2, "RX100", "c", "c"),
	})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	records, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, "a", records[0].RakutenURL)
	require.Equal(t, "2024-05-02", records[1].Date)
}

func TestAppendNothingLeavesDatasetUnchanged(t *testing.T) {
	s := newStore(t)
	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, jst)

	_, err := s.Append([]models.ResolvedRow{
		models.NewResolvedRow(ts, "RX100", "r", "a"),
		models.NewResolvedRow(ts, "iPhone", "", "b"),
	})
	require.NoError(t, err)
	before, err := s.Load()
	require.NoError(t, err)

	total, err := s.Append(nil)
	require.NoError(t, err)
	require.Equal(t, 2, total)

	after, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestAppendNothingOnMissingFileWritesHeader(t *testing.T) {
	s := newStore(t)

	total, err := s.Append(nil)
	require.NoError(t, err)
	require.Zero(t, total)

	f, err := excelize.OpenFile(s.Path())
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	require.Equal(t, [][]string{store.Columns}, rows)
}

func TestAppendRecoversFromCorruptDataset(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("not a spreadsheet"), 0o644))

	total, err := s.Append([]models.ResolvedRow{
		models.NewResolvedRow(time.Date(2024, 5, 1, 9, 0, 0, 0, jst), "RX100", "", "a"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestLoadNormalizesLegacyDates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trending_affiliates.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"timestamp", "date", "keyword", "rakuten_url", "amazon_url"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"2024-05-01 09:00:00+0900", "2024-05-01 00:00:00", "RX100", "", "a"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]any{"2024-05-01 10:00:00+0900", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), "RX100", "", "b"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	s := store.New(path, logger.Discard())
	total, err := s.Append(nil)
	require.NoError(t, err)
	require.Equal(t, 1, total)

	records, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, "2024-05-01", records[0].Date)
	require.Equal(t, "a", records[0].AmazonURL)
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "", want: ""},
		{raw: "2024-05-01", want: "2024-05-01"},
		{raw: "2024-05-01 13:14:15", want: "2024-05-01"},
		{raw: "2024-05-01T13:14:15+09:00", want: "2024-05-01"},
		{raw: "2024/5/1", want: "2024-05-01"},
		{raw: "45413", want: "2024-05-01"},
		{raw: "garbage", want: "garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			require.Equal(t, tt.want, store.NormalizeDate(tt.raw))
		})
	}
}
