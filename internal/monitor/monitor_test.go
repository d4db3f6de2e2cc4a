// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"newshound/internal/config"
	"newshound/internal/feed"
	"newshound/internal/telegram"
	"newshound/internal/testutil"
)

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

type sentMessage struct {
	chatID int64
	text   string
	opts   telegram.SendOptions
}

type testEngine struct {
	*Engine
	store *config.Store
	sent  []sentMessage
	// sendErr, if set, makes every send fail.
	sendErr error
}

type rssItem struct {
	title, link, source string
	published           time.Time
}

func rssFeed(items []rssItem) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Google News</title>`)
	for _, it := range items {
		fmt.Fprintf(&sb, `<item><title>%s</title><link>%s</link><pubDate>%s</pubDate><source url="https://example.com">%s</source></item>`,
			it.title, it.link, it.published.Format(time.RFC1123), it.source)
	}
	sb.WriteString("</channel></rss>")
	return sb.String()
}

func newTestEngine(t *testing.T, searchHandler http.HandlerFunc, mutate func(*config.Config)) *testEngine {
	t.Helper()

	store, err := config.Open(filepath.Join(t.TempDir(), "config.json"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if mutate != nil {
		if err := store.Mutate(func(c *config.Config) error {
			mutate(c)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}

	mux := http.NewServeMux()
	if searchHandler != nil {
		mux.HandleFunc("news.google.com/rss/search", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				http.NotFound(w, r)
				return
			}
			searchHandler(w, r)
		})
	}

	te := &testEngine{store: store}
	te.Engine = New(Config{
		Store: store,
		Fetcher: feed.New(feed.Config{
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
			Now:    func() time.Time { return testNow },
			HTTPClient: &http.Client{
				Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
					w := httptest.NewRecorder()
					mux.ServeHTTP(w, r)
					return w.Result(), nil
				}),
			},
		}),
		Send: func(_ context.Context, chatID int64, text string, opts telegram.SendOptions) (int64, error) {
			if te.sendErr != nil {
				return 0, te.sendErr
			}
			te.sent = append(te.sent, sentMessage{chatID: chatID, text: text, opts: opts})
			return int64(len(te.sent)), nil
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return testNow },
		Sleep:  func(context.Context, time.Duration) bool { return true },
	})
	return te
}

func TestRunMonitoringOff(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("monitoring is off, nothing should be fetched")
	}, func(c *config.Config) {
		c.OwnerID = 1
		c.Keywords = []string{"PETROBRAS"}
	})

	rep, err := e.Run(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rep, Report{})
	testutil.AssertEqual(t, len(e.sent), 0)
}

func TestManualRunWithoutKeywords(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, func(c *config.Config) {
		c.OwnerID = 1
	})

	if _, err := e.Run(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(e.sent), 1)
	testutil.AssertEqual(t, e.sent[0].chatID, int64(1))
	if !strings.Contains(e.sent[0].text, "No keywords configured") {
		t.Fatalf("unexpected reply: %q", e.sent[0].text)
	}
}

func TestRunFiltersAndDelivers(t *testing.T) {
	t.Parallel()

	items := []rssItem{
		// Fresh and matching, older of the two.
		{title: "Petrobras announces dividend", link: "https://example.com/a", source: "Valor", published: testNow.Add(-3 * time.Hour)},
		// Fresh and matching, newest.
		{title: "Markets react", link: "https://example.com/b", source: "Petrobras Watch", published: testNow.Add(-1 * time.Hour)},
		// Already delivered.
		{title: "Petrobras old news", link: "https://example.com/seen", source: "Valor", published: testNow.Add(-2 * time.Hour)},
		// Too old.
		{title: "Petrobras ancient news", link: "https://example.com/stale", source: "Valor", published: testNow.Add(-5 * 24 * time.Hour)},
		// Full-text match only: no keyword in title or source.
		{title: "Oil markets today", link: "https://example.com/tangential", source: "Reuters", published: testNow.Add(-1 * time.Hour)},
	}

	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssFeed(items)))
	}, func(c *config.Config) {
		c.OwnerID = 1
		c.MonitoringOn = true
		c.Keywords = []string{"PETROBRAS"}
		c.History = []string{"https://example.com/seen"}
	})

	rep, err := e.Run(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rep, Report{Fetched: 5, New: 2})
	testutil.AssertEqual(t, len(e.sent), 2)

	// Newest first.
	if !strings.Contains(e.sent[0].text, "Markets react") {
		t.Fatalf("first delivered message is not the newest article: %q", e.sent[0].text)
	}
	if !strings.Contains(e.sent[1].text, "Petrobras announces dividend") {
		t.Fatalf("unexpected second message: %q", e.sent[1].text)
	}

	// Every delivery carries read and unlock buttons.
	for _, msg := range e.sent {
		keyboard := msg.opts.Keyboard
		testutil.AssertEqual(t, len(keyboard), 1)
		testutil.AssertEqual(t, len(keyboard[0]), 2)
		if keyboard[0][0].URL == "" {
			t.Fatal("read button has no URL")
		}
		testutil.AssertEqual(t, keyboard[0][1].CallbackData, Unlock)
	}

	// Delivered links are remembered.
	c, err := e.store.Load()
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertContains(t, c.History, "https://example.com/a")
	testutil.AssertContains(t, c.History, "https://example.com/b")
	testutil.AssertNotContains(t, c.History, "https://example.com/tangential")
	testutil.AssertNotContains(t, c.History, "https://example.com/stale")

	// A second run delivers nothing new.
	e.sent = nil
	rep, err = e.Run(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rep.New, 0)
	testutil.AssertEqual(t, len(e.sent), 0)
}

func TestRunRecordsHistoryBeforeSending(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssFeed([]rssItem{
			{title: "Petrobras announces dividend", link: "https://example.com/a", source: "Valor", published: testNow.Add(-1 * time.Hour)},
		})))
	}, func(c *config.Config) {
		c.OwnerID = 1
		c.MonitoringOn = true
		c.Keywords = []string{"PETROBRAS"}
	})
	e.sendErr = errors.New("telegram is down")

	rep, err := e.Run(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rep.New, 1)

	// The article counts as delivered even though sending failed: losing an
	// article beats duplicating it.
	c, err := e.store.Load()
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertContains(t, c.History, "https://example.com/a")
}

func TestRunChunksKeywords(t *testing.T) {
	t.Parallel()

	var queries []string
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("q"))
		w.Write([]byte(rssFeed(nil)))
	}, func(c *config.Config) {
		c.OwnerID = 1
		c.MonitoringOn = true
		c.Keywords = []string{"A", "B", "C", "D", "E", "F", "G"}
	})

	if _, err := e.Run(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, queries, []string{
		`"A" OR "B" OR "C" OR "D" OR "E"`,
		`"F" OR "G"`,
	})
}

func TestRunMergesOverlappingChunks(t *testing.T) {
	t.Parallel()

	// Both chunks return the same article link.
	shared := rssItem{title: "ALPHA and OMEGA join forces", link: "https://example.com/shared", source: "Wire", published: testNow.Add(-1 * time.Hour)}

	var requests int
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(rssFeed([]rssItem{shared})))
	}, func(c *config.Config) {
		c.OwnerID = 1
		c.MonitoringOn = true
		// Two chunks; ALPHA lands in the first, OMEGA in the second.
		c.Keywords = []string{"ALPHA", "BRAVO", "CHARLIE", "DELTA", "ECHO", "OMEGA"}
	})

	rep, err := e.Run(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, requests, 2)
	testutil.AssertEqual(t, rep, Report{Fetched: 2, New: 1})
	testutil.AssertEqual(t, len(e.sent), 1)

	c, err := e.store.Load()
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, c.History, []string{"https://example.com/shared"})
}

func TestRetentionBoundary(t *testing.T) {
	t.Parallel()

	cutoff := testNow.Add(-4 * 24 * time.Hour) // retention of 3 days plus one of slack
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssFeed([]rssItem{
			{title: "Petrobras right at the edge", link: "https://example.com/edge", source: "Valor", published: cutoff},
			{title: "Petrobras just past the edge", link: "https://example.com/past", source: "Valor", published: cutoff.Add(-1 * time.Minute)},
		})))
	}, func(c *config.Config) {
		c.OwnerID = 1
		c.MonitoringOn = true
		c.Keywords = []string{"PETROBRAS"}
	})

	rep, err := e.Run(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}

	// Published exactly at the cutoff still counts as fresh; strictly before
	// it does not.
	testutil.AssertEqual(t, rep, Report{Fetched: 2, New: 1})
	testutil.AssertEqual(t, len(e.sent), 1)
	if !strings.Contains(e.sent[0].text, "right at the edge") {
		t.Fatalf("unexpected delivery: %q", e.sent[0].text)
	}
}

func TestRunToleratesChunkFailure(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Query().Get("q"), "FAILING") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(rssFeed([]rssItem{
			{title: "ZEBRA spotted downtown", link: "https://example.com/z", source: "Local News", published: testNow.Add(-1 * time.Hour)},
		})))
	}, func(c *config.Config) {
		c.OwnerID = 1
		c.MonitoringOn = true
		// Two chunks: the first fails, the second succeeds.
		c.Keywords = []string{"FAILING1", "FAILING2", "FAILING3", "FAILING4", "FAILING5", "ZEBRA"}
	})

	rep, err := e.Run(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rep, Report{Fetched: 1, New: 1})
	testutil.AssertEqual(t, len(e.sent), 1)
}

func TestManualRunReportsCompletion(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssFeed([]rssItem{
			{title: "Petrobras announces dividend", link: "https://example.com/a", source: "Valor", published: testNow.Add(-1 * time.Hour)},
		})))
	}, func(c *config.Config) {
		c.OwnerID = 1
		c.ChatID = 50
		c.Keywords = []string{"PETROBRAS"}
		// Monitoring is off: manual runs execute anyway.
	})

	rep, err := e.Run(context.Background(), 99)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rep, Report{Fetched: 1, New: 1})
	testutil.AssertEqual(t, len(e.sent), 2)

	// Articles go to the configured destination, the report to the chat that
	// asked.
	testutil.AssertEqual(t, e.sent[0].chatID, int64(50))
	testutil.AssertEqual(t, e.sent[1].chatID, int64(99))
	testutil.AssertEqual(t, e.sent[1].text, "Check finished: 1 fetched, 1 new.")
}

func TestColorMarkersRotate(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssFeed([]rssItem{
			{title: "PETROBRAS one", link: "https://example.com/1", source: "Valor", published: testNow.Add(-4 * time.Hour)},
			{title: "PETROBRAS two", link: "https://example.com/2", source: "Valor", published: testNow.Add(-3 * time.Hour)},
			{title: "PETROBRAS three", link: "https://example.com/3", source: "Valor", published: testNow.Add(-2 * time.Hour)},
			{title: "PETROBRAS four", link: "https://example.com/4", source: "Valor", published: testNow.Add(-1 * time.Hour)},
			{title: "PETROBRAS five", link: "https://example.com/5", source: "Valor", published: testNow},
		})))
	}, func(c *config.Config) {
		c.OwnerID = 1
		c.MonitoringOn = true
		c.Keywords = []string{"PETROBRAS"}
	})

	if _, err := e.Run(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(e.sent), 5)
	for i, msg := range e.sent {
		want := colorMarkers[i%len(colorMarkers)]
		if !strings.HasPrefix(msg.text, want) {
			t.Fatalf("message %d: want marker %s, got %q", i, want, msg.text)
		}
	}
}

func TestDryRun(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssFeed([]rssItem{
			{title: "Petrobras announces dividend", link: "https://example.com/a", source: "Valor", published: testNow.Add(-1 * time.Hour)},
		})))
	}, func(c *config.Config) {
		c.OwnerID = 1
		c.MonitoringOn = true
		c.Keywords = []string{"PETROBRAS"}
	})
	e.dry = true

	rep, err := e.Run(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rep.New, 1)
	testutil.AssertEqual(t, len(e.sent), 0)

	// Nothing is remembered either, so a real run can deliver later.
	c, err := e.store.Load()
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(c.History), 0)
}
