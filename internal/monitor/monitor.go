// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package monitor implements the news monitoring pipeline: fetch configured
// keyword searches, drop already delivered and stale articles and push the
// rest to the chat.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"newshound/internal/config"
	"newshound/internal/feed"
	"newshound/internal/telegram"
)

// Unlock is the callback data attached to the unlock button of every
// delivered article.
const Unlock = "unlock_article"

// colorMarkers prefix delivered articles in rotation, so consecutive
// messages are visually distinct.
var colorMarkers = []string{"🟢", "🔵", "🟣", "🟠"}

// Config configures an [Engine].
type Config struct {
	Store   *config.Store
	Fetcher *feed.Fetcher
	Send    SendFunc
	Logger  *slog.Logger
	// Dry logs articles instead of sending them.
	Dry bool
	// RetentionDays is how long delivered articles stay deliverable. Articles
	// published before now minus (RetentionDays+1) days are dropped.
	RetentionDays int
	// Now acts as time.Now, but can be mocked for testing.
	Now func() time.Time
	// Sleep acts as an interruptible time.Sleep, but can be mocked for
	// testing.
	Sleep func(context.Context, time.Duration) bool
}

// SendFunc delivers one message. It matches the signature of
// [telegram.Client.SendMessage].
type SendFunc func(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) (int64, error)

// Engine runs the monitoring pipeline. Runs are strictly sequential; the
// color marker rotation is the only state carried between them.
type Engine struct {
	cfg       *config.Store
	fetcher   *feed.Fetcher
	send      SendFunc
	slog      *slog.Logger
	dry       bool
	retention int
	now       func() time.Time
	sleep     func(context.Context, time.Duration) bool

	chunkDelay time.Duration
	sendDelay  time.Duration

	// mu serializes runs: the scheduler and a manual /check can ask for one
	// at the same time.
	mu       sync.Mutex
	colorIdx int
}

// New returns an Engine with unset config fields defaulted.
func New(cfg Config) *Engine {
	e := &Engine{
		cfg:        cfg.Store,
		fetcher:    cfg.Fetcher,
		send:       cfg.Send,
		slog:       cfg.Logger,
		dry:        cfg.Dry,
		retention:  cfg.RetentionDays,
		now:        cfg.Now,
		sleep:      cfg.Sleep,
		chunkDelay: 1 * time.Second,
		sendDelay:  1500 * time.Millisecond,
	}
	if e.slog == nil {
		e.slog = slog.Default()
	}
	if e.retention == 0 {
		e.retention = 3
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.sleep == nil {
		e.sleep = func(ctx context.Context, d time.Duration) bool {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return true
			case <-ctx.Done():
				return false
			}
		}
	}
	return e
}

// Report summarizes one pipeline run.
type Report struct {
	// Fetched is the total number of articles returned by all searches.
	Fetched int
	// New is the number of articles that passed filtering and were delivered.
	New int
}

// Run executes one pipeline pass.
//
// A scheduled run (manualChat == 0) is a no-op unless monitoring is switched
// on. A manual run always executes and additionally sends a completion report
// to manualChat; with no keywords configured it only reports that and does
// nothing else.
func (e *Engine) Run(ctx context.Context, manualChat int64) (Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	manual := manualChat != 0

	c, err := e.cfg.Load()
	if err != nil {
		return Report{}, err
	}
	if manual && len(c.Keywords) == 0 {
		_, err := e.send(ctx, manualChat, "No keywords configured. Send `@keyword` to add one.", telegram.SendOptions{})
		return Report{}, err
	}
	if !manual && !c.MonitoringOn {
		return Report{}, nil
	}

	fetched, fresh := e.collect(ctx, &c)

	if len(fresh) > 0 && !e.dry {
		// Record delivery before sending. A crash mid-send loses articles
		// rather than duplicating them on the next run.
		links := make([]string, 0, len(fresh))
		for _, a := range fresh {
			links = append(links, a.Link)
		}
		if err := e.cfg.Mutate(func(c *config.Config) error {
			c.RememberLinks(links)
			return nil
		}); err != nil {
			return Report{}, err
		}
	}

	e.deliver(ctx, c.Destination(), fresh)

	rep := Report{Fetched: fetched, New: len(fresh)}
	if manual {
		text := fmt.Sprintf("Check finished: %d fetched, %d new.", rep.Fetched, rep.New)
		if _, err := e.send(ctx, manualChat, text, telegram.SendOptions{}); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// collect fetches all keyword chunks and filters the merged result down to
// articles worth delivering, newest first.
func (e *Engine) collect(ctx context.Context, c *config.Config) (fetched int, fresh []feed.Article) {
	merged := make(map[string]feed.Article)
	chunks := feed.Chunks(c.Keywords, feed.DefaultChunkSize)
	for i, chunk := range chunks {
		if i > 0 && !e.sleep(ctx, e.chunkDelay) {
			return fetched, nil
		}
		articles, err := e.fetcher.Search(ctx, chunk)
		if err != nil {
			e.slog.Warn("fetching keyword chunk failed", "keywords", chunk, "error", err)
			continue
		}
		fetched += len(articles)
		for _, a := range articles {
			merged[a.Link] = a
		}
	}

	cutoff := e.now().Add(-time.Duration(e.retention+1) * 24 * time.Hour)
	for _, a := range merged {
		if c.HasSeen(a.Link) || a.Published.Before(cutoff) {
			continue
		}
		// Searches are full-text, so results can match only the article body.
		// Keep only articles whose title or source names a keyword; the rest
		// are too tangential to deliver.
		a.Keywords = matchKeywords(a, c.Keywords)
		if len(a.Keywords) == 0 {
			continue
		}
		fresh = append(fresh, a)
	}
	slices.SortFunc(fresh, func(a, b feed.Article) int {
		return b.Published.Compare(a.Published)
	})
	return fetched, fresh
}

func matchKeywords(a feed.Article, keywords []string) []string {
	haystack := strings.ToUpper(a.Title + " " + a.Source)
	var matched []string
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// deliver sends articles one by one, pacing sends to stay under the Bot API
// rate limit. Send failures are logged and skipped; the articles are already
// recorded as delivered.
func (e *Engine) deliver(ctx context.Context, chatID int64, articles []feed.Article) {
	for i, a := range articles {
		if i > 0 && !e.sleep(ctx, e.sendDelay) {
			return
		}
		if e.dry {
			e.slog.Info("would deliver article", "title", a.Title, "link", a.Link, "source", a.Source)
			continue
		}

		marker := colorMarkers[e.colorIdx]
		e.colorIdx = (e.colorIdx + 1) % len(colorMarkers)

		text := fmt.Sprintf("%s **%s**\n%s · %s\n_%s_",
			marker, a.Title, a.Source,
			a.Published.Format("02/01 15:04"),
			strings.Join(a.Keywords, ", "))
		opts := telegram.SendOptions{
			DisableLinkPreview: true,
			Keyboard: [][]telegram.Button{{
				{Text: "📰 Read", URL: a.Link},
				{Text: "🔓 Unlock", CallbackData: Unlock},
			}},
		}
		if _, err := e.send(ctx, chatID, text, opts); err != nil {
			e.slog.Warn("delivering article failed", "link", a.Link, "error", err)
		}
	}
}
