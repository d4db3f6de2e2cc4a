// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package unlock produces reader-friendly links for paywalled articles.
package unlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"newshound/internal/request"
)

// Mode selects how unlock links are produced.
type Mode string

const (
	// ModeDirect asks the bypass service to proxy the article and returns the
	// proxied URL.
	ModeDirect Mode = "direct"
	// ModeAssisted returns the service landing page together with the article
	// link, for the user to paste manually.
	ModeAssisted Mode = "assisted"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDirect, ModeAssisted:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown unlock mode %q", s)
}

// ErrNotUnlocked indicates the bypass service could not produce a proxied
// link for the article.
var ErrNotUnlocked = errors.New("article not unlocked")

// Config configures a [Helper].
type Config struct {
	Mode       Mode
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Helper produces unlock links through the 12ft.io bypass service.
type Helper struct {
	mode       Mode
	httpc      *http.Client
	slog       *slog.Logger
	apiURL     string
	serviceURL string
}

// New returns a Helper with unset config fields defaulted.
func New(cfg Config) *Helper {
	h := &Helper{
		mode:       cfg.Mode,
		httpc:      cfg.HTTPClient,
		slog:       cfg.Logger,
		apiURL:     "https://12ft.io/api/v1/proxy",
		serviceURL: "https://12ft.io/",
	}
	if h.mode == "" {
		h.mode = ModeDirect
	}
	if h.httpc == nil {
		h.httpc = request.DefaultClient
	}
	if h.slog == nil {
		h.slog = slog.Default()
	}
	return h
}

// Mode reports the configured unlock mode.
func (h *Helper) Mode() Mode { return h.mode }

// ServiceURL returns the landing page of the bypass service, for assisted
// mode.
func (h *Helper) ServiceURL() string { return h.serviceURL }

type proxyResponse struct {
	Status string `json:"status"`
	URL    string `json:"url"`
}

// Bypass asks the service to proxy link and returns the proxied URL. It
// returns [ErrNotUnlocked] when the service answers but declines the article.
func (h *Helper) Bypass(ctx context.Context, link string) (string, error) {
	res, err := request.Make[proxyResponse](ctx, request.Params{
		Method: http.MethodPost,
		URL:    h.apiURL,
		Body: struct {
			URL string `json:"url"`
		}{link},
		Headers: map[string]string{
			// The service only answers requests that look like they come from
			// its own frontend.
			"Referer":    h.serviceURL,
			"User-Agent": "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		},
		HTTPClient: h.httpc,
	})
	if err != nil {
		return "", err
	}
	if res.Status != "success" || res.URL == "" {
		h.slog.Debug("bypass declined", "link", link, "status", res.Status)
		return "", ErrNotUnlocked
	}
	return res.URL, nil
}
