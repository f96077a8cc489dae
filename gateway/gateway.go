// Package gateway sequences bring-up of the wired and wireless interfaces,
// tracks their status from driver events, and turns on address translation
// once both are usable.
package gateway // import "go.jonnrb.io/apgw/gateway"

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.jonnrb.io/apgw/iface"
	"go.jonnrb.io/apgw/link"
	"go.jonnrb.io/apgw/log"
	"go.jonnrb.io/apgw/netcfg"
)

const (
	DefaultBringUpTimeout = 10 * time.Second

	actionTimeout = 10 * time.Second
)

// Bounds the translator calls made while holding the event lock.
var translateTimeout = 10 * time.Second

var (
	ErrTranslationUnavailable = errors.New("gateway: address translation unavailable")

	// The access point stopped serving after it had started. Clients can no
	// longer reach the gateway, so there is nothing left to run for.
	ErrAccessPointDown = errors.New("gateway: access point went down")
)

// Returned by BringUp when the configuration can't be used. Nothing has been
// started when this is returned.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("gateway: refusing to start: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

type Config struct {
	Wired netcfg.InterfaceConfig
	AP    netcfg.InterfaceConfig

	Radio APParams

	// How long BringUp waits for the wired side before starting the AP
	// anyway. Defaults to DefaultBringUpTimeout.
	BringUpTimeout time.Duration

	// Called with every transition, in order, from the event loop. Must not
	// block.
	OnTransition func(iface.Transition)

	// Where drivers deliver events. One is created if nil.
	Events *link.Channel

	// Defaults to time.Now.
	Now func() time.Time
}

type Gateway struct {
	cfg    Config
	d      Drivers
	events *link.Channel

	// Guards everything below it and serializes writers.
	mu          sync.Mutex
	wired, ap   *iface.Machine
	translating bool
	degraded    map[netcfg.Role]string
	fatalErr    error
	changed     chan struct{}

	snap    atomic.Pointer[Snapshot]
	fatal   chan error
	actions sync.WaitGroup
}

func New(cfg Config, d Drivers) *Gateway {
	if cfg.BringUpTimeout == 0 {
		cfg.BringUpTimeout = DefaultBringUpTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Events == nil {
		cfg.Events = link.NewChannel()
	}
	g := &Gateway{
		cfg:      cfg,
		d:        d,
		events:   cfg.Events,
		wired:    iface.New(cfg.Wired),
		ap:       iface.New(cfg.AP),
		degraded: make(map[netcfg.Role]string),
		changed:  make(chan struct{}),
		fatal:    make(chan error, 1),
	}
	g.snap.Store(&Snapshot{
		Wired:    g.wired.Status(),
		Wireless: g.ap.Status(),
		Started:  cfg.Now(),
	})
	return g
}

// Where drivers should report link events.
func (g *Gateway) Events() link.Notifier {
	return g.events
}

// Returns the current snapshot. The result is a copy and may be retained.
func (g *Gateway) Snapshot() Snapshot {
	s := *g.snap.Load()
	s.Uptime = g.cfg.Now().Sub(s.Started)
	return s
}

// Blocks until the published snapshot satisfies pred or ctx is done.
func (g *Gateway) WaitFor(ctx context.Context, pred func(Snapshot) bool) (Snapshot, error) {
	for {
		g.mu.Lock()
		changed := g.changed
		g.mu.Unlock()

		if s := g.Snapshot(); pred(s) {
			return s, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return g.Snapshot(), ctx.Err()
		}
	}
}

// The fatal error the event loop stopped on, if any.
func (g *Gateway) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.fatalErr
}

// Processes driver events until ctx is done or a fatal error occurs.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- g.events.Run(ctx, g.Handle)
	}()

	select {
	case err := <-g.fatal:
		cancel()
		<-errc
		return err
	case err := <-errc:
		return err
	}
}

// Applies one event. Safe to call from any goroutine, though normally only
// Run calls it.
func (g *Gateway) Handle(ev link.Event) {
	if ev == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var m *iface.Machine
	switch ev.Role() {
	case netcfg.Wired:
		m = g.wired
	case netcfg.WirelessAP:
		m = g.ap
	default:
		log.V(2).Infof("gateway: ignoring event for unknown interface: %v", ev)
		return
	}

	t := m.Apply(ev)
	if !t.Changed() && t.From.Peers == t.To.Peers && t.To.Addr.Equal(t.From.Addr) {
		log.V(2).Infof("gateway: event had no effect: %v", ev)
	}
	if g.cfg.OnTransition != nil {
		g.cfg.OnTransition(t)
	}
	if t.EnteredReady() {
		delete(g.degraded, t.To.Role)
		g.maybeTranslateLocked()
	}
	if t.To.Role == netcfg.WirelessAP && t.From.Up() && !t.To.Up() {
		g.failLocked(ErrAccessPointDown)
		log.Tagged(t.To.Role.Tag()).Errorf("%v (had %d clients)", ErrAccessPointDown, t.From.Peers)
	}
	g.publishLocked()
	g.runActions(t)
}

func (g *Gateway) maybeTranslateLocked() {
	if g.translating || g.fatalErr != nil {
		return
	}
	w, a := g.wired.Status(), g.ap.Status()
	if !w.Up() || !a.Up() {
		return
	}

	l := log.Tagged("[NAT]")

	ctx, cancel := context.WithTimeout(context.Background(), translateTimeout)
	defer cancel()

	var err error
	if g.d.Translator == nil {
		err = errors.New("not built into this gateway")
	} else {
		err = g.d.Translator.Available(ctx)
	}
	if err != nil {
		g.failLocked(fmt.Errorf("%w: %v", ErrTranslationUnavailable, err))
		l.Errorf("cannot route %v to %v: %v", a.Addr.Net(), w.Addr.Net(), g.fatalErr)
		return
	}

	outside := g.cfg.Wired
	outside.Addr = w.Addr

	if err := g.d.Translator.Enable(ctx, g.cfg.AP, outside); err != nil {
		l.Errorf("enabling translation failed (will retry when an interface next becomes ready): %v", err)
		return
	}
	g.translating = true
	l.Infof("translating %v (%v) -> %v (%v)", a.Addr.Net(), g.cfg.AP.Link, w.Addr.IP, g.cfg.Wired.Link)
}

// Records the first fatal error and wakes Run.
func (g *Gateway) failLocked(err error) {
	if g.fatalErr != nil {
		return
	}
	g.fatalErr = err
	select {
	case g.fatal <- err:
	default:
	}
}

func (g *Gateway) publishLocked() {
	var degraded []string
	for r, why := range g.degraded {
		degraded = append(degraded, fmt.Sprintf("%v: %s", r, why))
	}
	sort.Strings(degraded)

	g.snap.Store(&Snapshot{
		Wired:              g.wired.Status(),
		Wireless:           g.ap.Status(),
		TranslationEnabled: g.translating,
		Degraded:           degraded,
		Started:            g.snap.Load().Started,
	})
	close(g.changed)
	g.changed = make(chan struct{})
}

func (g *Gateway) degrade(r netcfg.Role, why string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	m := g.wired
	if r == netcfg.WirelessAP {
		m = g.ap
	}
	if m.Status().Up() {
		// Came up while we were deciding it hadn't.
		return
	}
	g.degraded[r] = why
	g.publishLocked()
}

// Runs the side effects of a transition off of the event path. Failures are
// logged and otherwise ignored.
func (g *Gateway) runActions(t iface.Transition) {
	for _, a := range t.Actions {
		a, st := a, t.To
		g.actions.Add(1)
		go func() {
			defer g.actions.Done()

			ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
			defer cancel()
			g.runAction(ctx, a, st)
		}()
	}
}

func (g *Gateway) runAction(ctx context.Context, a iface.Action, st iface.Status) {
	cfg, d := g.cfg.Wired, Driver(g.d.Wired)
	if st.Role == netcfg.WirelessAP {
		cfg, d = g.cfg.AP, g.d.AP
	}
	l := log.Tagged(st.Role.Tag())

	switch a {
	case iface.AssignHostname:
		if d == nil {
			return
		}
		if err := d.SetHostname(ctx, cfg.Hostname); err != nil {
			l.Warningf("could not set hostname %q: %v", cfg.Hostname, err)
			return
		}
		log.V(1).Infof("%s hostname set to %q", st.Role.Tag(), cfg.Hostname)
	case iface.RegisterName:
		if g.d.Names == nil {
			return
		}
		if err := g.d.Names.Register(ctx, cfg.Hostname, st.Addr.IP); err != nil {
			l.Warningf("could not register %s.local: %v", cfg.Hostname, err)
			return
		}
		l.Infof("%s.local active", cfg.Hostname)
	}
}
