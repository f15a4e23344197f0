package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/DeafMist/trend-affiliate-report/internal/dedupe"
	"github.com/DeafMist/trend-affiliate-report/internal/models"
)

// Columns is the fixed header row of the dataset.
var Columns = []string{"timestamp", "date", "keyword", "rakuten_url", "amazon_url"}

const sheetName = "Sheet1"

// Record is one persisted dataset row, kept as text so rewrites are lossless.
type Record struct {
	Timestamp  string
	Date       string
	Keyword    string
	RakutenURL string
	AmazonURL  string
}

// Store appends resolved rows to an xlsx file, rewriting it in full each time.
type Store struct {
	path string
	log  *slog.Logger
}

// New returns a store backed by the spreadsheet at path.
func New(path string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{path: path, log: log}
}

// Path returns the dataset location.
func (s *Store) Path() string {
	return s.path
}

// Append merges rows after the existing dataset, drops later duplicates of the
// same (date, keyword) and rewrites the file. It returns the total row count.
// An unreadable dataset is logged and replaced. Appending nothing still rewrites.
func (s *Store) Append(rows []models.ResolvedRow) (int, error) {
	existing, err := s.Load()
	if err != nil {
		s.log.Warn("failed to read existing dataset, recreating",
			slog.String("path", s.path),
			slog.Any("err", err),
		)
		existing = nil
	}

	all := make([]Record, 0, len(existing)+len(rows))
	all = append(all, existing...)
	for _, row := range rows {
		all = append(all, recordFromRow(row))
	}

	merged := Merge(all)
	if err := s.write(merged); err != nil {
		return 0, err
	}

	s.log.Info("dataset updated",
		slog.String("path", s.path),
		slog.Int("appended", len(rows)),
		slog.Int("total", len(merged)),
	)
	return len(merged), nil
}

// Load reads the dataset. A missing file yields no records and no error.
func (s *Store) Load() ([]Record, error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("dataset has no sheets")
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read dataset rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	index := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		index[strings.TrimSpace(name)] = i
	}
	if _, ok := index["date"]; !ok {
		return nil, fmt.Errorf("dataset header has no date column")
	}
	if _, ok := index["keyword"]; !ok {
		return nil, fmt.Errorf("dataset header has no keyword column")
	}

	cell := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		records = append(records, Record{
			Timestamp:  cell(row, "timestamp"),
			Date:       cell(row, "date"),
			Keyword:    cell(row, "keyword"),
			RakutenURL: cell(row, "rakuten_url"),
			AmazonURL:  cell(row, "amazon_url"),
		})
	}
	return records, nil
}

// Merge normalizes dates and keeps the first record for every (date, keyword).
func Merge(records []Record) []Record {
	seen := dedupe.NewSet(len(records))
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		rec.Date = NormalizeDate(rec.Date)
		if !seen.Add(dedupe.Key(rec.Date, rec.Keyword)) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

var dateLayouts = []string{
	models.DateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	models.TimestampLayout,
	"2006/01/02",
	"2006/1/2",
}

// NormalizeDate truncates a date cell to YYYY-MM-DD. Excel serial numbers are
// converted; values that cannot be parsed are returned trimmed.
func NormalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial > 0 {
		if ts, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return ts.Format(models.DateLayout)
		}
	}

	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.Format(models.DateLayout)
		}
	}

	if len(raw) > len(models.DateLayout) {
		if ts, err := time.Parse(models.DateLayout, raw[:len(models.DateLayout)]); err == nil {
			return ts.Format(models.DateLayout)
		}
	}
	return raw
}

func (s *Store) write(records []Record) error {
	f := excelize.NewFile()
	defer f.Close()

	header := make([]any, len(Columns))
	for i, name := range Columns {
		header[i] = name
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, rec := range records {
		cellName, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		values := []any{rec.Timestamp, rec.Date, rec.Keyword, rec.RakutenURL, rec.AmazonURL}
		if err := f.SetSheetRow(sheetName, cellName, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".trending_affiliates-*.xlsx")
	if err != nil {
		return fmt.Errorf("create temp dataset: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := f.Write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp dataset: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace dataset: %w", err)
	}
	return nil
}

func recordFromRow(row models.ResolvedRow) Record {
	return Record{
		Timestamp:  row.Timestamp.Format(models.TimestampLayout),
		Date:       row.Date,
		Keyword:    row.Keyword,
		RakutenURL: row.RakutenURL,
		AmazonURL:  row.AmazonURL,
	}
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
