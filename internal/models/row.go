package models

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// DateLayout is the day format used for the date column and dedupe keys.
const DateLayout = "2006-01-02"

// TimestampLayout is how run timestamps are written to the dataset.
const TimestampLayout = "2006-01-02 15:04:05-0700"

// TimestampField is the JSON name of ResolvedRow.Timestamp, used by range queries.
const TimestampField = "timestamp"

// ResolvedRow is one keyword resolved to affiliate links during a run.
type ResolvedRow struct {
	Timestamp  time.Time `json:"timestamp"`
	Date       string    `json:"date"`
	Keyword    string    `json:"keyword"`
	RakutenURL string    `json:"rakuten_url,omitempty"`
	AmazonURL  string    `json:"amazon_url"`
}

// NewResolvedRow stamps a row with the run time; the date is taken in ts's location.
func NewResolvedRow(ts time.Time, keyword, rakutenURL, amazonURL string) ResolvedRow {
	return ResolvedRow{
		Timestamp:  ts,
		Date:       ts.Format(DateLayout),
		Keyword:    keyword,
		RakutenURL: rakutenURL,
		AmazonURL:  amazonURL,
	}
}

// ID hashes (date, keyword) so downstream sinks overwrite rather than duplicate.
func (r ResolvedRow) ID() string {
	return RowID(r.Date, r.Keyword)
}

// RowID builds the deterministic identifier for a (date, keyword) pair.
func RowID(date, keyword string) string {
	s := sha1.Sum([]byte(date + "|" + keyword))
	return hex.EncodeToString(s[:])
}
