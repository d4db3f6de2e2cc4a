// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package cli

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"strings"
	"testing"

	"newshound/internal/testutil"
)

func testEnv(args ...string) (*Env, *bytes.Buffer) {
	var stderr bytes.Buffer
	return &Env{
		Args:   args,
		Getenv: func(string) string { return "" },
		Stderr: &stderr,
		Stdout: &stderr,
	}, &stderr
}

func TestRunVersionFlag(t *testing.T) {
	env, stderr := testEnv("-version")
	err := Run(context.Background(), AppFunc(func(context.Context, *Env) error {
		t.Fatal("app should not run")
		return nil
	}), env)
	if !errors.Is(err, ErrExitVersion) {
		t.Fatalf("want ErrExitVersion, got %v", err)
	}
	if stderr.Len() == 0 {
		t.Fatal("version was not printed")
	}
}

func TestRunPassesArgs(t *testing.T) {
	env, _ := testEnv("hello", "world")
	var got []string
	if err := Run(context.Background(), AppFunc(func(_ context.Context, env *Env) error {
		got = env.Args
		return nil
	}), env); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got, []string{"hello", "world"})
}

type flagApp struct {
	verbose bool
}

func (a *flagApp) Flags(fs *flag.FlagSet) {
	fs.BoolVar(&a.verbose, "verbose", false, "Be more verbose.")
}

func (a *flagApp) Run(context.Context, *Env) error { return nil }

func TestRunAppFlags(t *testing.T) {
	env, _ := testEnv("-verbose")
	app := new(flagApp)
	if err := Run(context.Background(), app, env); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, app.verbose, true)
}

func TestRunBadFlag(t *testing.T) {
	env, stderr := testEnv("-no-such-flag")
	err := Run(context.Background(), AppFunc(func(context.Context, *Env) error {
		t.Fatal("app should not run")
		return nil
	}), env)
	if err == nil {
		t.Fatal("want error")
	}
	if isPrintableError(err) {
		t.Fatalf("flag errors should be unprintable, got %v", err)
	}
	if !strings.Contains(stderr.String(), "flag provided but not defined") {
		t.Fatalf("unexpected stderr: %q", stderr.String())
	}
}
