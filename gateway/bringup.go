package gateway

import (
	"context"
	"errors"
	"fmt"

	"go.jonnrb.io/apgw/log"
	"go.jonnrb.io/apgw/netcfg"
)

// Brings up the wired interface, waits (bounded by BringUpTimeout) for it to
// become Ready, then brings up the AP. Run must be processing events
// concurrently or the wait will always time out.
//
// Only configuration errors are returned; a driver rejecting its interface
// leaves that interface Down and the gateway running in a degraded mode.
func (g *Gateway) BringUp(ctx context.Context) error {
	if err := netcfg.CheckPair(g.cfg.Wired, g.cfg.AP); err != nil {
		return &ConfigError{Err: err}
	}
	if g.d.Wired == nil || g.d.AP == nil {
		return &ConfigError{Err: errors.New("a driver is required for both interfaces")}
	}

	if err := g.bringUpWired(ctx); err != nil {
		return err
	}
	if err := g.bringUpAP(ctx); err != nil {
		return err
	}

	s := g.Snapshot()
	switch {
	case s.Wired.Up() && s.Wireless.Up():
		log.Info("gateway ONLINE")
	case s.Wireless.Up():
		log.Warning("gateway running wireless-only")
	default:
		log.Warningf("gateway running degraded: %v", s.Degraded)
	}
	return nil
}

func (g *Gateway) bringUpWired(ctx context.Context) error {
	cfg := g.cfg.Wired
	l := log.Tagged(cfg.Role.Tag())

	l.Infof("initializing %q", cfg.Link)
	if err := g.d.Wired.Configure(ctx, cfg); err != nil {
		l.Errorf("static address config FAILED: %v", err)
		g.degrade(cfg.Role, fmt.Sprintf("static address rejected: %v", err))
		return nil
	}
	l.Infof("static address set: %v", cfg.Addr)

	if err := g.d.Wired.Start(ctx); err != nil {
		l.Errorf("start FAILED: %v", err)
		g.degrade(cfg.Role, fmt.Sprintf("start failed: %v", err))
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, g.cfg.BringUpTimeout)
	defer cancel()
	_, err := g.WaitFor(wctx, func(s Snapshot) bool { return s.Wired.Up() })
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		l.Warningf("not ready after %v; starting the AP anyway", g.cfg.BringUpTimeout)
		g.degrade(cfg.Role, fmt.Sprintf("not ready after %v", g.cfg.BringUpTimeout))
	}
	return nil
}

func (g *Gateway) bringUpAP(ctx context.Context) error {
	cfg := g.cfg.AP
	l := log.Tagged(cfg.Role.Tag())

	l.Infof("initializing %q", cfg.Link)
	if err := g.d.AP.Configure(ctx, cfg); err != nil {
		l.Errorf("AP address config FAILED: %v", err)
		g.degrade(cfg.Role, fmt.Sprintf("address rejected: %v", err))
		return nil
	}

	if err := g.d.AP.Start(ctx, g.cfg.Radio); err != nil {
		l.Errorf("AP start FAILED: %v", err)
		g.degrade(cfg.Role, fmt.Sprintf("start failed: %v", err))
		return nil
	}
	l.Infof("AP %q starting on channel %d", g.cfg.Radio.SSID, g.cfg.Radio.Channel)

	wctx, cancel := context.WithTimeout(ctx, g.cfg.BringUpTimeout)
	defer cancel()
	_, err := g.WaitFor(wctx, func(s Snapshot) bool { return s.Wireless.Up() })
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		l.Warningf("AP not serving after %v", g.cfg.BringUpTimeout)
		g.degrade(cfg.Role, fmt.Sprintf("not serving after %v", g.cfg.BringUpTimeout))
	}
	return nil
}
