package report

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DeafMist/trend-affiliate-report/internal/models"
)

const (
	// SnippetTextFile holds the raw CTA fragments.
	SnippetTextFile = "hatena_cta_snippets.txt"
	// SnippetHTMLFile shows the same fragments escaped inside <pre> for copying on a phone.
	SnippetHTMLFile = "hatena_cta_snippets.html"

	// NoTrendsNotice is used for both bodies when the run found nothing.
	NoTrendsNotice = "自動送信: トレンドが取得できませんでした。空のシートを添付します。"

	headerLayout = "2006-01-02 15:04 MST"
)

const (
	labelRakuten = "楽天で見る"
	labelAmazon  = "Amazonで見る"
	labelGeneric = "商品を見る"
)

const snippetNote = "<p style='color:#555;font-size:12px'>※ はてな<strong>HTMLエディタ</strong>に貼る用のCTAコードを " +
	"<strong>" + SnippetTextFile + "</strong> と <strong>.html</strong> で添付しています。" +
	"iPhoneなら添付を開いて全選択→コピーで貼り付け可能です。</p>"

// FormatTimestamp renders the report header time.
func FormatTimestamp(ts time.Time) string {
	return ts.Format(headerLayout)
}

// Subject fills {date} and {time} in the configured subject template.
func Subject(template string, ts time.Time) string {
	return strings.NewReplacer(
		"{date}", ts.Format("2006-01-02"),
		"{time}", ts.Format("15:04"),
	).Replace(template)
}

// BuildEmailBodies returns the plain text and HTML bodies for rows.
// Keywords and URLs are escaped in the HTML body.
func BuildEmailBodies(rows []models.ResolvedRow, ts time.Time) (string, string) {
	stamp := FormatTimestamp(ts)
	if len(rows) == 0 {
		plain := fmt.Sprintf("%s\n生成時刻: %s\n", NoTrendsNotice, stamp)
		htmlBody := fmt.Sprintf("<p>%s<br>生成時刻: %s</p>", NoTrendsNotice, html.EscapeString(stamp))
		return plain, htmlBody
	}

	return plainBody(rows, stamp), htmlBody(rows, stamp)
}

func plainBody(rows []models.ResolvedRow, stamp string) string {
	lines := []string{
		fmt.Sprintf("自動送信: 本日のトレンド商品一覧（%s）", stamp),
		fmt.Sprintf("件数: %d", len(rows)),
		"",
	}
	for _, r := range rows {
		lines = append(lines, "- "+r.Keyword)
		if r.RakutenURL != "" {
			lines = append(lines, "   楽天: "+r.RakutenURL)
		}
		if r.AmazonURL != "" {
			lines = append(lines, "   Amazon: "+r.AmazonURL)
		}
	}
	return strings.Join(lines, "\n")
}

func htmlBody(rows []models.ResolvedRow, stamp string) string {
	var b strings.Builder
	b.WriteString("<div>\n")
	fmt.Fprintf(&b, "  <p>自動送信: 本日のトレンド商品一覧（%s）</p>\n", html.EscapeString(stamp))
	fmt.Fprintf(&b, "  <p>件数: %d</p>\n", len(rows))
	b.WriteString(`  <table border="1" cellpadding="6" cellspacing="0" style="border-collapse:collapse">` + "\n")
	b.WriteString("    <thead><tr><th>キーワード</th><th>楽天</th><th>Amazon</th></tr></thead>\n")
	b.WriteString("    <tbody>\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(r.Keyword),
			link(r.RakutenURL, "楽天"),
			link(r.AmazonURL, "Amazon"),
		)
	}
	b.WriteString("    </tbody>\n  </table>\n")
	b.WriteString("  " + snippetNote + "\n")
	b.WriteString("</div>\n")
	return b.String()
}

func link(url, label string) string {
	if url == "" {
		return ""
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), label)
}

// LinkLabel picks the CTA caption from the retailer host in url.
func LinkLabel(url string) string {
	u := strings.ToLower(url)
	switch {
	case strings.Contains(u, "rakuten.co.jp"):
		return labelRakuten
	case strings.Contains(u, "amazon.co.jp"):
		return labelAmazon
	default:
		return labelGeneric
	}
}

// BuildCopySnippets renders one raw CTA block per row that has a usable URL,
// preferring Rakuten. The output is meant to be pasted into an HTML editor
// verbatim, so nothing is escaped.
func BuildCopySnippets(rows []models.ResolvedRow) string {
	parts := make([]string, 0, len(rows))
	for _, r := range rows {
		url := r.RakutenURL
		if url == "" {
			url = r.AmazonURL
		}
		if url == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("<!-- %s -->\n"+
			"<div style=\"margin:16px 0;\">\n"+
			"  <a href=\"%s\" rel=\"nofollow sponsored\" "+
			"style=\"display:inline-block;padding:12px 16px;background:#2563eb;color:#fff;border-radius:8px;text-decoration:none;font-weight:700;\">%s</a>\n"+
			"</div>\n", strings.TrimSpace(r.Keyword), url, LinkLabel(url)))
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// WrapSnippetsHTML embeds snippets escaped inside a <pre> block so the page
// shows the code instead of rendering it.
func WrapSnippetsHTML(snippets string) string {
	return "<!doctype html><meta charset='utf-8'><pre>" + html.EscapeString(snippets) + "</pre>"
}

// WriteSnippetFiles writes the .txt and .html snippet files into dir and
// returns their paths. Empty snippets write nothing.
func WriteSnippetFiles(dir, snippets string) ([]string, error) {
	if snippets == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snippet dir: %w", err)
	}

	txtPath := filepath.Join(dir, SnippetTextFile)
	if err := os.WriteFile(txtPath, []byte(snippets), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", SnippetTextFile, err)
	}

	htmlPath := filepath.Join(dir, SnippetHTMLFile)
	if err := os.WriteFile(htmlPath, []byte(WrapSnippetsHTML(snippets)), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", SnippetHTMLFile, err)
	}

	return []string{txtPath, htmlPath}, nil
}
