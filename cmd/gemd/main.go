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

// Command gemd runs a Gemini server: a router in front of a static
// file handler and an optional Titan upload handler, wrapped by
// rate-limiting middleware. It sets up no reverse proxy and no access
// control.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dimkr/gemcore/cfg"
	"github.com/dimkr/gemcore/gemini"
	"github.com/dimkr/gemcore/logcontext"
	"github.com/dimkr/gemcore/middleware"
	"github.com/dimkr/gemcore/router"
	"github.com/dimkr/gemcore/static"
	"github.com/dimkr/gemcore/tlsconf"
	"github.com/dimkr/gemcore/titan"
)

var (
	addr          = flag.String("addr", ":1965", "Gemini listening address")
	certPath      = flag.String("cert", "cert.pem", "TLS certificate path")
	keyPath       = flag.String("key", "key.pem", "TLS private key path")
	root          = flag.String("root", ".", "Static document root")
	titanToken    = flag.String("titan-token", "", "Shared secret required on Titan uploads; empty disables the check")
	enableTitan   = flag.Bool("titan", false, "Enable the Titan upload/delete handler at /titan/")
	logLevel      = flag.Int("loglevel", int(slog.LevelInfo), "Logging verbosity")
	rateCapacity  = flag.Float64("rate-capacity", 0, "Per-IP token bucket capacity (0 = default)")
	rateRefill    = flag.Float64("rate-refill", 0, "Per-IP token bucket refill rate per second (0 = default)")
)

func main() {
	flag.Parse()

	opts := slog.HandlerOptions{Level: slog.Level(*logLevel)}
	log := slog.New(logcontext.NewHandler(slog.NewJSONHandler(os.Stderr, &opts)))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("gemd exited with an error", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	if _, err := os.Stat(*certPath); err != nil {
		return fmt.Errorf("gemd: certificate %s is missing: %w", *certPath, err)
	}
	if _, err := os.Stat(*keyPath); err != nil {
		return fmt.Errorf("gemd: key %s is missing: %w", *keyPath, err)
	}

	c := &cfg.Config{StaticDocumentRoot: *root}
	if *rateCapacity > 0 {
		c.RateLimitCapacity = *rateCapacity
	}
	if *rateRefill > 0 {
		c.RateLimitRefillRate = *rateRefill
	}
	c.FillDefaults()

	tlsConfig, err := tlsconf.ServerConfig(*certPath, *keyPath)
	if err != nil {
		return fmt.Errorf("gemd: failed to build TLS configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	staticHandler, err := static.New(ctx, log, c)
	if err != nil {
		return fmt.Errorf("gemd: failed to start static handler: %w", err)
	}
	defer staticHandler.Close()

	routes := []router.Route{
		{Pattern: "/", Kind: router.Prefix, Handler: staticHandler},
	}

	if *enableTitan {
		titanHandler, err := titan.New(c, *titanToken, log)
		if err != nil {
			return fmt.Errorf("gemd: failed to start titan handler: %w", err)
		}
		routes = append([]router.Route{{Pattern: "/titan/", Kind: router.Prefix, Handler: titanHandler}}, routes...)
	}

	mux, err := router.New(nil, routes...)
	if err != nil {
		return fmt.Errorf("gemd: failed to build router: %w", err)
	}

	rateLimiter := middleware.NewRateLimiter(ctx, c)

	handler := middleware.Chain(mux, rateLimiter.Middleware())

	srv := &gemini.Server{
		Addr:      *addr,
		TLSConfig: tlsConfig,
		Handler:   handler,
		Config:    c,
		Log:       log,
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Go(func() {
		select {
		case <-sigs:
			log.Info("Received termination signal")
			cancel()
		case <-ctx.Done():
		}
	})

	log.Info("Starting Gemini server", "addr", *addr, "root", *root)
	err = srv.ListenAndServe(ctx)
	cancel()
	wg.Wait()
	rateLimiter.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
