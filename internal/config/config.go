package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// DefaultSubject is used when the config file carries no SUBJECT template.
const DefaultSubject = "トレンド商品レポート（{date} {time}）"

// DatasetFile is the spreadsheet rewritten on every run.
const DatasetFile = "trending_affiliates.xlsx"

// Common contains Elasticsearch parameters shared by every binary.
type Common struct {
	ElasticsearchAddr  string
	ElasticsearchIndex string
}

// Email holds SMTP delivery settings. It is only ever read from the JSON config file.
type Email struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       []string
	Subject  string
}

// Reporter holds configuration for the daily trend report run.
type Reporter struct {
	Common
	RakutenAppID       string
	RakutenAffiliateID string
	AmazonAssociateTag string
	NoFilter           bool
	TopN               int
	OutputDir          string
	ConfigFile         string
	LogFile            string
	TrendsGeo          string
	TrendsLanguage     string
	Location           *time.Location
	KafkaBrokers       []string
	KafkaTopic         string
	Email              Email
}

// Retention configures the one-shot index cleanup.
type Retention struct {
	Common
	MaxAge         time.Duration
	BatchSize      int
	ConnectRetries int
}

// LoadReporter builds a Reporter config from environment variables, then fills
// empty credentials and the email block from the JSON config file. An empty
// configFile falls back to CONFIG_FILE. A missing file is not an error, but a
// file that is not valid JSON is: the error names the file and the whole run
// stops instead of silently reporting without credentials or email.
func LoadReporter(configFile string) (*Reporter, error) {
	outputDir := getEnv("OUTPUT_DIR", ".")
	if configFile == "" {
		configFile = getEnv("CONFIG_FILE", filepath.Join(outputDir, "config.json"))
	}

	c := &Reporter{
		Common: Common{
			ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", ""),
			ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "trending_affiliates"),
		},
		RakutenAppID:       getEnv("RAKUTEN_APPLICATION_ID", ""),
		RakutenAffiliateID: getEnv("RAKUTEN_AFFILIATE_ID", ""),
		AmazonAssociateTag: getEnv("AMAZON_ASSOCIATE_TAG", ""),
		NoFilter:           getBool("NO_FILTER", false),
		TopN:               getInt("TOP_N", 20),
		OutputDir:          outputDir,
		ConfigFile:         configFile,
		LogFile:            getEnv("LOG_FILE", filepath.Join(outputDir, "run.log")),
		TrendsGeo:          getEnv("TRENDS_GEO", "JP"),
		TrendsLanguage:     getEnv("TRENDS_LANGUAGE", "ja-JP"),
		KafkaBrokers:       splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "trending_affiliates"),
		Email:              Email{Subject: DefaultSubject},
	}

	loc, err := time.LoadLocation(getEnv("REPORT_TIMEZONE", "Asia/Tokyo"))
	if err != nil {
		return nil, fmt.Errorf("REPORT_TIMEZONE: %w", err)
	}
	c.Location = loc

	if c.TopN <= 0 {
		return nil, fmt.Errorf("TOP_N must be positive")
	}

	if err := c.mergeFile(configFile); err != nil {
		return nil, err
	}

	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	c := &Retention{
		Common: Common{
			ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", ""),
			ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "trending_affiliates"),
		},
		MaxAge:         getDuration("RETENTION_MAX_AGE", "2160h"),
		BatchSize:      getInt("RETENTION_BATCH_SIZE", 500),
		ConnectRetries: getInt("RETENTION_CONNECT_RETRIES", 10),
	}

	if c.ElasticsearchAddr == "" {
		return nil, fmt.Errorf("ELASTICSEARCH_ADDR is required")
	}
	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}
	if c.ConnectRetries <= 0 {
		return nil, fmt.Errorf("RETENTION_CONNECT_RETRIES must be positive")
	}

	return c, nil
}

// DatasetPath is where the spreadsheet lives.
func (c *Reporter) DatasetPath() string {
	return filepath.Join(c.OutputDir, DatasetFile)
}

// MissingEmailFields lists the required EMAIL keys that are empty, in file order.
// Sending is enabled only when the list is empty.
func (c *Reporter) MissingEmailFields() []string {
	var missing []string
	if c.Email.Host == "" {
		missing = append(missing, "SMTP_HOST")
	}
	if c.Email.Port <= 0 {
		missing = append(missing, "SMTP_PORT")
	}
	if c.Email.User == "" {
		missing = append(missing, "SMTP_USER")
	}
	if c.Email.Password == "" {
		missing = append(missing, "SMTP_PASSWORD")
	}
	if c.Email.From == "" {
		missing = append(missing, "FROM")
	}
	if len(c.Email.To) == 0 {
		missing = append(missing, "TO")
	}
	return missing
}

type fileConfig struct {
	RakutenAppID       string     `json:"RAKUTEN_APPLICATION_ID"`
	RakutenAffiliateID string     `json:"RAKUTEN_AFFILIATE_ID"`
	AmazonAssociateTag string     `json:"AMAZON_ASSOCIATE_TAG"`
	Email              *fileEmail `json:"EMAIL"`
}

type fileEmail struct {
	Host     string     `json:"SMTP_HOST"`
	Port     flexInt    `json:"SMTP_PORT"`
	User     string     `json:"SMTP_USER"`
	Password string     `json:"SMTP_PASSWORD"`
	From     string     `json:"FROM"`
	To       recipients `json:"TO"`
	Subject  string     `json:"SUBJECT"`
}

func (c *Reporter) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.RakutenAppID = firstNonEmpty(c.RakutenAppID, fc.RakutenAppID)
	c.RakutenAffiliateID = firstNonEmpty(c.RakutenAffiliateID, fc.RakutenAffiliateID)
	c.AmazonAssociateTag = firstNonEmpty(c.AmazonAssociateTag, fc.AmazonAssociateTag)

	if fc.Email != nil {
		c.Email = Email{
			Host:     strings.TrimSpace(fc.Email.Host),
			Port:     int(fc.Email.Port),
			User:     fc.Email.User,
			Password: fc.Email.Password,
			From:     strings.TrimSpace(fc.Email.From),
			To:       []string(fc.Email.To),
			Subject:  firstNonEmpty(fc.Email.Subject, DefaultSubject),
		}
	}
	return nil
}

// flexInt accepts 587 as well as "587".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("SMTP_PORT: expected number or string, got %s", b)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("SMTP_PORT: %w", err)
	}
	*f = flexInt(n)
	return nil
}

// recipients accepts a single address, a comma separated string, or a list.
type recipients []string

func (r *recipients) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*r = recipients(splitAndTrim(strings.Join(list, ",")))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("TO: expected string or list, got %s", b)
	}
	*r = recipients(splitAndTrim(s))
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
