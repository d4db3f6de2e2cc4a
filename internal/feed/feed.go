// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package feed fetches articles from the Google News search feed.
package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	urlpkg "net/url"
	"strconv"
	"strings"
	"time"

	"newshound/internal/request"
	"newshound/internal/version"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed/rss"
)

const searchBase = "https://news.google.com/rss/search"

// DefaultChunkSize bounds the number of keywords combined into one search
// query to keep the query length reasonable.
const DefaultChunkSize = 5

// Article is a single news item produced by a search. It exists only within
// one pipeline run; across runs only its link survives, in the delivery
// history.
type Article struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Source    string    `json:"source"`
	Published time.Time `json:"published"`
	// Keywords are the configured keywords that matched this article. Filled
	// in by the pipeline, not by the fetcher.
	Keywords []string `json:"keywords,omitempty"`
}

// Config configures a [Fetcher].
type Config struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Lang and Country select the Google News edition (hl/gl parameters).
	Lang    string
	Country string
	// Location is the timezone publication timestamps are normalized to.
	Location *time.Location
	// WindowDays is the search time window, in days.
	WindowDays int
	// ResolveLinks enables resolving news.google.com redirect links to their
	// final destination.
	ResolveLinks bool
	// Now acts as time.Now, but can be mocked for testing.
	Now func() time.Time
}

// Fetcher requests and parses keyword searches against the news feed.
type Fetcher struct {
	httpc   *http.Client
	slog    *slog.Logger
	fp      *rss.Parser
	lang    string
	country string
	loc     *time.Location
	window  int
	resolve bool
	now     func() time.Time
}

// New returns a Fetcher with unset config fields defaulted.
func New(cfg Config) *Fetcher {
	f := &Fetcher{
		httpc:   cfg.HTTPClient,
		slog:    cfg.Logger,
		fp:      &rss.Parser{},
		lang:    cfg.Lang,
		country: cfg.Country,
		loc:     cfg.Location,
		window:  cfg.WindowDays,
		resolve: cfg.ResolveLinks,
		now:     cfg.Now,
	}
	if f.httpc == nil {
		f.httpc = request.DefaultClient
	}
	if f.slog == nil {
		f.slog = slog.Default()
	}
	if f.lang == "" {
		f.lang = "en-US"
	}
	if f.country == "" {
		f.country = "US"
	}
	if f.loc == nil {
		f.loc = time.UTC
	}
	if f.window == 0 {
		f.window = 3
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f
}

// Chunks splits keywords into batches of at most size.
func Chunks(keywords []string, size int) [][]string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var chunks [][]string
	for len(keywords) > size {
		chunks = append(chunks, keywords[:size])
		keywords = keywords[size:]
	}
	if len(keywords) > 0 {
		chunks = append(chunks, keywords)
	}
	return chunks
}

// SearchURL builds the feed URL for a single keyword chunk: a disjunctive
// quoted full-text query over a fixed time window, with a cache buster.
func (f *Fetcher) SearchURL(chunk []string) string {
	quoted := make([]string, 0, len(chunk))
	for _, kw := range chunk {
		quoted = append(quoted, `"`+strings.TrimSpace(kw)+`"`)
	}

	v := urlpkg.Values{}
	v.Set("q", strings.Join(quoted, " OR "))
	v.Set("hl", f.lang)
	v.Set("gl", f.country)
	v.Set("ceid", f.country+":"+strings.Split(f.lang, "-")[0])
	v.Set("tbs", fmt.Sprintf("qdr:d%d", f.window))
	v.Set("cb", strconv.FormatInt(f.now().Unix(), 10))
	return searchBase + "?" + v.Encode()
}

// Search fetches one keyword chunk and parses the result. Entries missing a
// title, link, source or parseable publication date are skipped silently.
func (f *Fetcher) Search(ctx context.Context, chunk []string) ([]Article, error) {
	if len(chunk) == 0 {
		return nil, nil
	}

	url := f.SearchURL(chunk)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	res, err := f.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		const readLimit = 16384 // enough for error messages
		body, err := io.ReadAll(io.LimitReader(res.Body, readLimit))
		if err != nil {
			body = []byte("unable to read body")
		}
		return nil, fmt.Errorf("want 200, got %d: %s", res.StatusCode, body)
	}

	feedDoc, err := f.fp.Parse(res.Body)
	if err != nil {
		return nil, err
	}

	var articles []Article
	for _, item := range feedDoc.Items {
		if item.Title == "" || item.Link == "" || item.PubDateParsed == nil || item.Source == nil || item.Source.Title == "" {
			f.slog.Debug("skipping incomplete feed entry", "title", item.Title, "link", item.Link)
			continue
		}
		link := item.Link
		if f.resolve {
			link = f.resolveLink(ctx, link)
		}
		articles = append(articles, Article{
			Title:     item.Title,
			Link:      link,
			Source:    item.Source.Title,
			Published: item.PubDateParsed.In(f.loc),
		})
	}
	return articles, nil
}

// resolveLink resolves a news.google.com redirect link to its final
// destination. It first issues a HEAD request and follows redirects; if the
// final URL is still a Google host, it fetches the interstitial page and
// looks for the first external anchor. Any failure falls back to the
// original link.
func (f *Fetcher) resolveLink(ctx context.Context, link string) string {
	u, err := urlpkg.Parse(link)
	if err != nil || !isGoogleHost(u.Hostname()) {
		return link
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return link
	}
	req.Header.Set("User-Agent", version.UserAgent())
	res, err := f.httpc.Do(req)
	if err != nil {
		f.slog.Warn("resolving link failed, keeping original", "link", link, "error", err)
		return link
	}
	final := res.Request.URL
	res.Body.Close()
	if !isGoogleHost(final.Hostname()) {
		return final.String()
	}

	resolved, err := f.resolveFromPage(ctx, link)
	if err != nil {
		f.slog.Warn("resolving link failed, keeping original", "link", link, "error", err)
		return link
	}
	return resolved
}

// resolveFromPage parses the Google News interstitial page for the first
// anchor pointing outside Google.
func (f *Fetcher) resolveFromPage(ctx context.Context, link string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	res, err := f.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("want 200, got %d", res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return "", err
	}

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href := sel.AttrOr("href", "")
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			return true
		}
		if u, err := urlpkg.Parse(href); err == nil && !isGoogleHost(u.Hostname()) {
			found = href
			return false
		}
		return true
	})
	if found == "" {
		return "", fmt.Errorf("no external link found on %s", link)
	}
	return found, nil
}

func isGoogleHost(host string) bool {
	return host == "news.google.com" || strings.HasSuffix(host, ".google.com") || host == "google.com"
}
