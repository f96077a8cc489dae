package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"go.jonnrb.io/apgw/config"
	"go.jonnrb.io/apgw/discovery/mdns"
	"go.jonnrb.io/apgw/driver/ethernet"
	"go.jonnrb.io/apgw/driver/hostapd"
	"go.jonnrb.io/apgw/gateway"
	"go.jonnrb.io/apgw/health"
	"go.jonnrb.io/apgw/link"
	"go.jonnrb.io/apgw/log"
	"go.jonnrb.io/apgw/metrics"
	"go.jonnrb.io/apgw/nat"
	"go.jonnrb.io/apgw/status"
	"go.jonnrb.io/apgw/update"
	"go.jonnrb.io/apgw/update/httpupdate"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func main() {
	flag.Parse()

	if *healthCheck {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		code, err := health.Probe(ctx, *httpAddr, os.Stdout)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		if code != http.StatusOK {
			os.Exit(code)
		}
		return
	}

	p, err := config.Resolve(flag.CommandLine, *configPath)
	if err != nil {
		log.Fatalf("error reading configuration: %v", err)
	}
	cfg, err := p.Gateway()
	if err != nil {
		log.Fatalf("error in configuration: %v", err)
	}
	banner(p, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer cancel()

	events := link.NewChannel()
	reporter := &status.Reporter{Period: *statusPeriod, SSID: cfg.Radio.SSID}
	cfg.Events = events
	cfg.BringUpTimeout = *bringUpTimeout
	cfg.OnTransition = reporter.Transition

	eth := ethernet.New(events)
	if *writeResolvConf {
		eth.ResolvConf = "/etc/resolv.conf"
	}
	ap := hostapd.New(events)
	ap.Command, ap.ConfPath = *hostapdCmd, *hostapdConf
	names := &mdns.Responder{Link: cfg.Wired.Link}

	g := gateway.New(cfg, gateway.Drivers{
		Wired:      eth,
		AP:         ap,
		Translator: nat.New(),
		Names:      names,
	})
	reporter.Source = g

	m, err := metrics.New(ctx, g, []metrics.Link{
		{Role: cfg.Wired.Role.String(), Name: cfg.Wired.Link},
		{Role: cfg.AP.Role.String(), Name: cfg.AP.Link},
	})
	if err != nil {
		log.Fatalf("error setting up metrics: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(p.Update.ImagePath), 0755); err != nil {
		log.Warningf("updates will fail: %v", err)
	}
	transport := &httpupdate.Transport{
		Passphrase: p.Update.Passphrase,
		ImagePath:  p.Update.ImagePath,
		MaxBytes:   p.Update.MaxBytes,
		Trusted:    cfg.Wired.Addr.Net(),
	}
	gate := &update.Gate{Source: g, Transport: transport, OnResult: m.ObserveUpdate}
	transport.Session = gate

	mux := http.NewServeMux()
	mux.Handle("/metrics", m)
	mux.Handle("/health", health.New(ctx, g, *upstream))
	mux.Handle("/status", reporter)
	mux.Handle("/update", transport)

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		err := g.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	grp.Go(func() error {
		return g.BringUp(ctx)
	})
	grp.Go(func() error {
		return serve(ctx, mux)
	})
	grp.Go(func() error {
		if err := names.Run(ctx); err != nil {
			log.Errorf("local name resolution unavailable: %v", err)
		}
		return nil
	})
	grp.Go(func() error {
		serviceLoop(ctx, gate, reporter)
		return nil
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
	log.Info("shutting down")
}

func banner(p config.Params, cfg gateway.Config) {
	log.Info("========================================")
	log.Info(" LAN GATEWAY")
	log.Info("========================================")
	log.Infof("Device ID : %s", p.Hostname)
	log.Infof("LAN IP    : %v", cfg.Wired.Addr)
	log.Infof("AP        : %q on %v", cfg.Radio.SSID, cfg.AP.Addr)
	log.Info("----------------------------------------")
}

func serve(ctx context.Context, h http.Handler) error {
	l, err := net.Listen("tcp", *httpAddr)
	if err != nil {
		return fmt.Errorf("error listening on %q: %w", *httpAddr, err)
	}
	srv := &http.Server{Handler: h}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Infof("listening on %q", *httpAddr)
	if err := srv.Serve(l); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// The cooperative loop: opens or closes the update transport as the wired
// link comes and goes, and emits the periodic status summary.
func serviceLoop(ctx context.Context, gate *update.Gate, reporter *status.Reporter) {
	t := time.NewTicker(*loopInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			gate.Service()
			reporter.Tick(now)
		}
	}
}
