/*
Copyright 2026 The gemcore Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command gemfetch performs a single Gemini request and prints the
// response, pinning the server's certificate via TOFU the same way a
// long-lived client session would. It deliberately has no REPL, no
// pager and no terminal rendering: that surface is explicitly out of
// scope.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/dimkr/gemcore/cfg"
	"github.com/dimkr/gemcore/session"
	"github.com/dimkr/gemcore/status"
	"github.com/dimkr/gemcore/tofu"
)

var (
	tofuPath = flag.String("tofu-db", "tofu.sqlite3", "TOFU known-hosts database path")
	noFollow = flag.Bool("no-redirect", false, "Do not follow gemini-scheme redirects")
)

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flag]... <gemini-or-titan-uri>\n", os.Args[0])
		os.Exit(2)
	}

	if err := run(flag.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(target string) error {
	c := &cfg.Config{TOFUDatabasePath: *tofuPath}
	c.FillDefaults()

	ctx := context.Background()

	store, err := tofu.Open(ctx, slog.Default(), c.TOFUDatabasePath)
	if err != nil {
		return fmt.Errorf("gemfetch: failed to open TOFU database: %w", err)
	}
	defer store.Close()

	s := &session.Session{Config: c, TOFU: store, FollowRedirects: !*noFollow}

	resp, err := s.Fetch(ctx, target)
	if err != nil {
		return fmt.Errorf("gemfetch: %w", err)
	}

	fmt.Fprintf(os.Stderr, "%d %s (%s)\n", resp.Status, resp.Meta, status.Interpret(resp.Status))
	if resp.IsSuccess() {
		fmt.Print(resp.Body)
	}

	return nil
}
