// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package config persists the bot configuration as a single JSON document.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"newshound/internal/util/set"

	"crawshaw.dev/jsonfile"
)

// maxHistory bounds the delivery history. When exceeded, the oldest links
// are dropped.
const maxHistory = 5000

// Config is the persisted bot state. It is rewritten in full on every
// mutation.
type Config struct {
	// OwnerID is the Telegram user ID of the bot owner. Set once at first
	// /start, immutable thereafter.
	OwnerID int64 `json:"owner_id"`
	// ChatID is the notification destination. Zero means "send to owner".
	ChatID int64 `json:"chat_id"`
	// Keywords are stored uppercase, sorted and unique.
	Keywords []string `json:"keywords"`
	// MonitoringOn enables the background polling loop.
	MonitoringOn bool `json:"monitoring_on"`
	// History holds links of already delivered articles in insertion order.
	History []string `json:"history"`
}

// Destination returns the chat ID notifications should be delivered to.
func (c *Config) Destination() int64 {
	if c.ChatID != 0 {
		return c.ChatID
	}
	return c.OwnerID
}

// Normalize canonicalizes a keyword for storage and comparison.
func Normalize(kw string) string {
	return strings.ToUpper(strings.TrimSpace(kw))
}

// AddKeywords adds the given keywords, normalizing and deduplicating them,
// and returns the subset that was actually added. Adding an already present
// keyword is a no-op.
func (c *Config) AddKeywords(items []string) (added []string) {
	have := set.NewFromSlice(c.Keywords...)
	for _, item := range items {
		kw := Normalize(item)
		if kw == "" {
			continue
		}
		if have.Add(kw) {
			added = append(added, kw)
		}
	}
	c.Keywords = have.ToSortedSlice()
	slices.Sort(added)
	return added
}

// RemoveKeywords removes the given keywords (case-insensitively) and returns
// the subset that was actually removed. Removing a missing keyword is a
// no-op.
func (c *Config) RemoveKeywords(items []string) (removed []string) {
	have := set.NewFromSlice(c.Keywords...)
	for _, item := range items {
		kw := Normalize(item)
		if have.Del(kw) {
			removed = append(removed, kw)
		}
	}
	c.Keywords = have.ToSortedSlice()
	slices.Sort(removed)
	return removed
}

// HasSeen reports whether link is already present in the delivery history.
func (c *Config) HasSeen(link string) bool {
	return slices.Contains(c.History, link)
}

// RememberLinks appends links to the delivery history, skipping ones already
// present and dropping the oldest entries over the history cap.
func (c *Config) RememberLinks(links []string) {
	for _, link := range links {
		if !c.HasSeen(link) {
			c.History = append(c.History, link)
		}
	}
	if over := len(c.History) - maxHistory; over > 0 {
		c.History = slices.Clone(c.History[over:])
	}
}

// Store provides access to the configuration document on disk.
//
// A missing or corrupt backing file is silently replaced with the default
// document; corruption never surfaces to callers.
type Store struct {
	path string
	slog *slog.Logger

	mu sync.Mutex
	f  *jsonfile.JSONFile[Config] // nil after Reset, reopened lazily
}

// Open opens or creates the configuration document at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, slog: logger}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.ensureLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureLocked() (*jsonfile.JSONFile[Config], error) {
	if s.f != nil {
		return s.f, nil
	}
	f, err := jsonfile.Load[Config](s.path)
	if errors.Is(err, fs.ErrNotExist) {
		f, err = jsonfile.New[Config](s.path)
	} else if err != nil {
		// Treat a corrupt document as no configuration at all.
		s.slog.Warn("config file unreadable, starting fresh", "path", s.path, "error", err)
		if rmErr := os.Remove(s.path); rmErr != nil {
			return nil, rmErr
		}
		f, err = jsonfile.New[Config](s.path)
	}
	if err != nil {
		return nil, err
	}
	s.f = f
	return s.f, nil
}

// Load returns a snapshot of the current configuration.
func (s *Store) Load() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.ensureLocked()
	if err != nil {
		return Config{}, err
	}
	var c Config
	f.Read(func(data *Config) {
		c = *data
		c.Keywords = slices.Clone(data.Keywords)
		c.History = slices.Clone(data.History)
	})
	return c, nil
}

// Mutate applies fn to the configuration and rewrites the whole document
// atomically.
func (s *Store) Mutate(fn func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.ensureLocked()
	if err != nil {
		return err
	}
	return f.Write(fn)
}

// Reset removes the backing file. The next access starts from the default
// document.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.f = nil
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
