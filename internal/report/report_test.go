package report_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/trend-affiliate-report/internal/models"
	"github.com/DeafMist/trend-affiliate-report/internal/report"
)

var ts = time.Date(2024, 5, 1, 9, 5, 0, 0, time.FixedZone("JST", 9*60*60))

func TestSubject(t *testing.T) {
	require.Equal(t, "トレンド商品レポート（2024-05-01 09:05）", report.Subject("トレンド商品レポート（{date} {time}）", ts))
	require.Equal(t, "static", report.Subject("static", ts))
}

func TestBuildEmailBodiesEmpty(t *testing.T) {
	plain, html := report.BuildEmailBodies(nil, ts)

	for _, body := range []string{plain, html} {
		require.Contains(t, body, "トレンドが取得できませんでした")
		require.Contains(t, body, "2024-05-01 09:05 JST")
		require.NotContains(t, body, "<tr>")
	}
}

func TestBuildEmailBodiesWithRows(t *testing.T) {
	rows := []models.ResolvedRow{
		models.NewResolvedRow(ts, "RX100", "https://hb.afl.rakuten.co.jp/a?x=1&y=2", "https://www.amazon.co.jp/s?k=RX100"),
		models.NewResolvedRow(ts, "<script>", "", "https://www.amazon.co.jp/s?k=%3Cscript%3E"),
	}

	plain, html := report.BuildEmailBodies(rows, ts)

	require.Equal(t, strings.Join([]string{
		"自動送信: 本日のトレンド商品一覧（2024-05-01 09:05 JST）",
		"件数: 2",
		"",
		"- RX100",
		"   楽天: https://hb.afl.rakuten.co.jp/a?x=1&y=2",
		"   Amazon: https://www.amazon.co.jp/s?k=RX100",
		"- <script>",
		"   Amazon: https://www.amazon.co.jp/s?k=%3Cscript%3E",
	}, "\n"), plain)

	require.Contains(t, html, "件数: 2")
	require.Equal(t, 2, strings.Count(html, "<tr><td>"))
	require.Contains(t, html, `<a href="https://hb.afl.rakuten.co.jp/a?x=1&amp;y=2">楽天</a>`)
	require.Contains(t, html, "<td>&lt;script&gt;</td><td></td>")
	require.NotContains(t, html, "<td><script>")
	require.Contains(t, html, report.SnippetTextFile)
}

func TestLinkLabel(t *testing.T) {
	require.Equal(t, "楽天で見る", report.LinkLabel("https://hb.afl.RAKUTEN.co.jp/x"))
	require.Equal(t, "Amazonで見る", report.LinkLabel("https://www.amazon.co.jp/s?k=x"))
	require.Equal(t, "商品を見る", report.LinkLabel("https://example.com"))
	require.Equal(t, "商品を見る", report.LinkLabel(""))
}

func TestBuildCopySnippets(t *testing.T) {
	onlyRakuten := []models.ResolvedRow{{Keyword: "RX100", RakutenURL: "https://hb.afl.rakuten.co.jp/rx"}}
	got := report.BuildCopySnippets(onlyRakuten)
	require.Equal(t, 1, strings.Count(got, "<a href="))
	require.Contains(t, got, "<!-- RX100 -->")
	require.Contains(t, got, `<a href="https://hb.afl.rakuten.co.jp/rx" rel="nofollow sponsored"`)
	require.Contains(t, got, ">楽天で見る</a>")

	require.Empty(t, report.BuildCopySnippets([]models.ResolvedRow{{Keyword: "empty"}}))

	mixed := []models.ResolvedRow{
		{Keyword: "a", RakutenURL: "https://hb.afl.rakuten.co.jp/a", AmazonURL: "https://www.amazon.co.jp/s?k=a&tag=t"},
		{Keyword: "b", AmazonURL: "https://www.amazon.co.jp/s?k=b&tag=t"},
		{Keyword: "c"},
	}
	got = report.BuildCopySnippets(mixed)
	require.Equal(t, 2, strings.Count(got, "<a href="))
	require.Contains(t, got, "</div>\n\n<!-- b -->")
	require.Contains(t, got, `href="https://www.amazon.co.jp/s?k=b&tag=t"`)
	require.Contains(t, got, ">Amazonで見る</a>")
	require.NotContains(t, got, "<!-- c -->")
	require.False(t, strings.HasSuffix(got, "\n"))
}

func TestWriteSnippetFiles(t *testing.T) {
	dir := t.TempDir()
	snippets := report.BuildCopySnippets([]models.ResolvedRow{{Keyword: "RX100", RakutenURL: "https://hb.afl.rakuten.co.jp/rx"}})

	paths, err := report.WriteSnippetFiles(dir, snippets)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, report.SnippetTextFile),
		filepath.Join(dir, report.SnippetHTMLFile),
	}, paths)

	raw, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	require.Equal(t, snippets, string(raw))

	wrapped, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(wrapped), "<!doctype html><meta charset='utf-8'><pre>"))
	require.Contains(t, string(wrapped), "&lt;!-- RX100 --&gt;")
	require.NotContains(t, string(wrapped), "<a href")
}

func TestWriteSnippetFilesSkipsEmpty(t *testing.T) {
	dir := t.TempDir()

	paths, err := report.WriteSnippetFiles(dir, "")
	require.NoError(t, err)
	require.Empty(t, paths)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
