// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package unlock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"newshound/internal/testutil"
)

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func testHelper(mux *http.ServeMux) *Helper {
	return New(Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		HTTPClient: &http.Client{
			Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, r)
				return w.Result(), nil
			}),
		},
	})
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for _, valid := range []string{"direct", "assisted"} {
		mode, err := ParseMode(valid)
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, string(mode), valid)
	}
	if _, err := ParseMode("magic"); err == nil {
		t.Fatal("want error")
	}
}

func TestBypass(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("12ft.io/api/v1/proxy", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatal(err)
		}
		req := testutil.UnmarshalJSON[map[string]any](t, body)
		testutil.AssertEqual(t, req["url"], "https://publisher.example/story")
		testutil.AssertEqual(t, r.Header.Get("Content-Type"), "application/json")
		testutil.AssertEqual(t, r.Header.Get("Referer"), "https://12ft.io/")
		if !strings.Contains(r.Header.Get("User-Agent"), "Mozilla") {
			t.Fatalf("unexpected User-Agent: %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte(`{"status":"success","url":"https://12ft.io/proxy?q=https://publisher.example/story"}`))
	})

	got, err := testHelper(mux).Bypass(context.Background(), "https://publisher.example/story")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got, "https://12ft.io/proxy?q=https://publisher.example/story")
}

func TestBypassDeclined(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("12ft.io/api/v1/proxy", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"status":"error","message":"not supported"}`))
	})

	_, err := testHelper(mux).Bypass(context.Background(), "https://publisher.example/story")
	if !errors.Is(err, ErrNotUnlocked) {
		t.Fatalf("want ErrNotUnlocked, got %v", err)
	}
}

func TestBypassServiceDown(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("12ft.io/api/v1/proxy", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := testHelper(mux).Bypass(context.Background(), "https://publisher.example/story")
	if err == nil || errors.Is(err, ErrNotUnlocked) {
		t.Fatalf("want transport error, got %v", err)
	}
}
