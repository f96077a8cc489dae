package gateway

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.jonnrb.io/apgw/iface"
	"go.jonnrb.io/apgw/link"
	"go.jonnrb.io/apgw/netcfg"
)

func mustAddr(s string) netcfg.Addr {
	a, err := netcfg.ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

func testConfig(wired, ap string) Config {
	return Config{
		Wired: netcfg.InterfaceConfig{
			Role:     netcfg.Wired,
			Link:     "eth0",
			Addr:     mustAddr(wired),
			Hostname: "beach-gw",
		},
		AP: netcfg.InterfaceConfig{
			Role:     netcfg.WirelessAP,
			Link:     "wlan0",
			Addr:     mustAddr(ap),
			Hostname: "beach-gw",
		},
		Radio: APParams{
			SSID:     "beach",
			Channel:  6,
			MaxPeers: 4,
		},
		BringUpTimeout: time.Second,
	}
}

type testGateway struct {
	*Gateway
	rec   *callRecorder
	wired *fakeWired
	ap    *fakeAP
	nat   *fakeTranslator
}

func newTestGateway(cfg Config) *testGateway {
	rec := &callRecorder{}
	cfg.Events = link.NewChannel()
	tg := &testGateway{
		rec:   rec,
		wired: &fakeWired{rec: rec, n: cfg.Events},
		ap:    &fakeAP{rec: rec, n: cfg.Events},
		nat:   &fakeTranslator{},
	}
	tg.Gateway = New(cfg, Drivers{
		Wired:      tg.wired,
		AP:         tg.ap,
		Translator: tg.nat,
		Names:      fakeNames{rec},
	})
	return tg
}

func wiredUp(ip string) []link.Event {
	return []link.Event{
		link.Started{Iface: netcfg.Wired},
		link.Up{Iface: netcfg.Wired},
		link.AddressAcquired{
			Iface:   netcfg.Wired,
			IP:      net.ParseIP(ip),
			Gateway: net.ParseIP("192.168.1.1"),
			Mask:    net.CIDRMask(24, 32),
		},
	}
}

func runInBackground(t *testing.T, g *Gateway) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- g.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errc
}

func waitFor(t *testing.T, g *Gateway, what string, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := g.WaitFor(ctx, pred)
	if err != nil {
		t.Fatalf("timed out waiting for %s; last snapshot: %+v", what, s)
	}
	return s
}

var ignoreTimes = cmpopts.IgnoreFields(Snapshot{}, "Started", "Uptime")

func TestBringUp_BothReady(t *testing.T) {
	tg := newTestGateway(testConfig("192.168.1.50/24", "172.18.2.1/24"))
	tg.wired.onStart = wiredUp("192.168.1.50")
	runInBackground(t, tg.Gateway)

	if err := tg.BringUp(context.Background()); err != nil {
		t.Fatalf("expected err == nil; got err == %v", err)
	}
	s := waitFor(t, tg.Gateway, "translation", func(s Snapshot) bool { return s.TranslationEnabled })

	want := Snapshot{
		Wired: iface.Status{
			Role:    netcfg.Wired,
			State:   iface.Ready,
			Addr:    mustAddr("192.168.1.50/24"),
			Gateway: net.ParseIP("192.168.1.1"),
		},
		Wireless: iface.Status{
			Role:    netcfg.WirelessAP,
			State:   iface.Ready,
			Addr:    mustAddr("172.18.2.1/24"),
			Gateway: mustAddr("172.18.2.1/24").IP,
		},
		TranslationEnabled: true,
	}
	if diff := cmp.Diff(want, s, ignoreTimes, cmp.Comparer(func(a, b net.IP) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("unexpected snapshot; diff: %v", diff)
	}

	if n := tg.nat.count(); n != 1 {
		t.Errorf("expected translation enabled once; got %v", n)
	}
	if !tg.nat.outside.Addr.IP.Equal(net.ParseIP("192.168.1.50")) {
		t.Errorf("expected the acquired wired address as the outside; got %v", tg.nat.outside.Addr)
	}
	if tg.nat.inside.Link != "wlan0" {
		t.Errorf("expected wlan0 as the inside; got %q", tg.nat.inside.Link)
	}
	if tg.ap.params.SSID != "beach" {
		t.Errorf("expected the radio params to reach the AP driver; got %+v", tg.ap.params)
	}

	tg.actions.Wait()
	calls := strings.Join(tg.rec.get(), "\n")
	for _, c := range []string{
		"wired.SetHostname beach-gw",
		"ap.SetHostname beach-gw",
		"names.Register beach-gw 192.168.1.50",
	} {
		if !strings.Contains(calls, c) {
			t.Errorf("expected call %q; got calls:\n%v", c, calls)
		}
	}
}

func TestBringUp_WiredBeforeAP(t *testing.T) {
	tg := newTestGateway(testConfig("192.168.1.50/24", "172.18.2.1/24"))
	tg.wired.onStart = wiredUp("192.168.1.50")
	runInBackground(t, tg.Gateway)

	if err := tg.BringUp(context.Background()); err != nil {
		t.Fatalf("expected err == nil; got err == %v", err)
	}

	var order []string
	for _, c := range tg.rec.get() {
		if strings.HasSuffix(c, "Configure") || strings.HasSuffix(c, "Start") {
			order = append(order, c)
		}
	}
	want := []string{"wired.Configure", "wired.Start", "ap.Configure", "ap.Start"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("unexpected bring-up order; diff: %v", diff)
	}
}

func TestBringUp_OverlappingRangesRefused(t *testing.T) {
	tg := newTestGateway(testConfig("172.18.2.50/24", "172.18.2.1/24"))
	tg.wired.onStart = wiredUp("172.18.2.50")
	runInBackground(t, tg.Gateway)

	err := tg.BringUp(context.Background())

	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError; got err == %v", err)
	}
	var ne *netcfg.Error
	if !errors.As(err, &ne) || ne.Invariant != netcfg.InvariantDisjoint {
		t.Errorf("expected the disjointness invariant to be named; got err == %v", err)
	}
	if calls := tg.rec.get(); len(calls) != 0 {
		t.Errorf("expected no driver calls; got %v", calls)
	}
	s := tg.Snapshot()
	if s.Wired.State != iface.Down || s.Wireless.State != iface.Down {
		t.Errorf("expected both interfaces Down; got %v / %v", s.Wired, s.Wireless)
	}
}

func TestBringUp_WiredTimeoutStillStartsAP(t *testing.T) {
	cfg := testConfig("192.168.1.50/24", "172.18.2.1/24")
	cfg.BringUpTimeout = 50 * time.Millisecond
	tg := newTestGateway(cfg)
	tg.wired.onStart = wiredUp("192.168.1.50")[:1]
	runInBackground(t, tg.Gateway)

	if err := tg.BringUp(context.Background()); err != nil {
		t.Fatalf("expected err == nil; got err == %v", err)
	}
	s := tg.Snapshot()

	if st := s.Wired.State; st != iface.Starting && st != iface.Down {
		t.Errorf("expected wired Starting or Down; got %v", st)
	}
	if !s.Wireless.Up() {
		t.Errorf("expected wireless Ready; got %v", s.Wireless)
	}
	if s.TranslationEnabled {
		t.Error("expected translation to be disabled")
	}
	if len(s.Degraded) != 1 || !strings.HasPrefix(s.Degraded[0], "wired: not ready") {
		t.Errorf("expected the wired timeout to be reported; got %q", s.Degraded)
	}

	// Late address clears the degraded reason and turns on translation.
	tg.Events().Notify(wiredUp("192.168.1.50")[1])
	tg.Events().Notify(wiredUp("192.168.1.50")[2])
	s = waitFor(t, tg.Gateway, "translation", func(s Snapshot) bool { return s.TranslationEnabled })
	if len(s.Degraded) != 0 {
		t.Errorf("expected no degraded reasons; got %q", s.Degraded)
	}
}

func TestBringUp_WiredRejectedStillStartsAP(t *testing.T) {
	tg := newTestGateway(testConfig("192.168.1.50/24", "172.18.2.1/24"))
	tg.wired.configureErr = errors.New("no such link")
	runInBackground(t, tg.Gateway)

	if err := tg.BringUp(context.Background()); err != nil {
		t.Fatalf("expected err == nil; got err == %v", err)
	}
	s := tg.Snapshot()

	if s.Wired.State != iface.Down {
		t.Errorf("expected wired Down; got %v", s.Wired)
	}
	if !s.Wireless.Up() {
		t.Errorf("expected wireless Ready; got %v", s.Wireless)
	}
	for _, c := range tg.rec.get() {
		if c == "wired.Start" {
			t.Error("wired should not be started after its config was rejected")
		}
	}
}

func TestBringUp_APRejected(t *testing.T) {
	tg := newTestGateway(testConfig("192.168.1.50/24", "172.18.2.1/24"))
	tg.wired.onStart = wiredUp("192.168.1.50")
	tg.ap.startErr = errors.New("radio busy")
	runInBackground(t, tg.Gateway)

	if err := tg.BringUp(context.Background()); err != nil {
		t.Fatalf("expected err == nil; got err == %v", err)
	}
	s := tg.Snapshot()

	if !s.Wired.Up() {
		t.Errorf("expected wired Ready; got %v", s.Wired)
	}
	if s.Wireless.State != iface.Down || s.TranslationEnabled {
		t.Errorf("expected a wired-only gateway; got %+v", s)
	}
}

func TestHandle_TranslationOnlyWhenBothReady(t *testing.T) {
	tg := newTestGateway(testConfig("192.168.1.50/24", "172.18.2.1/24"))

	for _, ev := range wiredUp("192.168.1.50") {
		tg.Handle(ev)
	}
	if tg.Snapshot().TranslationEnabled || tg.nat.count() != 0 {
		t.Fatal("translation enabled with only the wired interface ready")
	}

	tg.Handle(link.Started{Iface: netcfg.WirelessAP})
	if !tg.Snapshot().TranslationEnabled || tg.nat.count() != 1 {
		t.Fatal("translation not enabled with both interfaces ready")
	}
}

func TestHandle_TranslationEnabledOnce(t *testing.T) {
	tg := newTestGateway(testConfig("192.168.1.50/24", "172.18.2.1/24"))
	tg.Handle(link.Started{Iface: netcfg.WirelessAP})
	for _, ev := range wiredUp("192.168.1.50") {
		tg.Handle(ev)
	}

	for i := 0; i < 3; i++ {
		tg.Handle(link.Down{Iface: netcfg.Wired})
		tg.Handle(link.Up{Iface: netcfg.Wired})
		tg.Handle(wiredUp("192.168.1.50")[2])
	}

	if n := tg.nat.count(); n != 1 {
		t.Errorf("expected translation enabled exactly once; got %v", n)
	}
	if !tg.Snapshot().TranslationEnabled {
		t.Error("expected translation to stay enabled")
	}
}

func TestHandle_EnableFailureRetried(t *testing.T) {
	tg := newTestGateway(testConfig("192.168.1.50/24", "172.18.2.1/24"))
	tg.nat.enableErrs = []error{errors.New("iptables: no chain")}

	tg.Handle(link.Started{Iface: netcfg.WirelessAP})
	for _, ev := range wiredUp("192.168.1.50") {
		tg.Handle(ev)
	}
	if tg.Snapshot().TranslationEnabled {
		t.Fatal("translation should not be enabled after a failure")
	}
	if err := tg.Err(); err != nil {
		t.Fatalf("an enable failure should not be fatal; got err == %v", err)
	}

	tg.Handle(link.Down{Iface: netcfg.Wired})
	tg.Handle(link.Up{Iface: netcfg.Wired})
	tg.Handle(wiredUp("192.168.1.50")[2])

	if !tg.Snapshot().TranslationEnabled {
		t.Error("expected translation to be enabled on retry")
	}
}

func TestHandle_LinkDownLeavesWirelessAlone(t *testing.T) {
	tg := newTestGateway(testConfig("192.168.1.50/24", "172.18.2.1/24"))
	tg.Handle(link.Started{Iface: netcfg.WirelessAP})
	tg.Handle(link.PeerJoined{Iface: netcfg.WirelessAP})
	for _, ev := range wiredUp("192.168.1.50") {
		tg.Handle(ev)
	}
	before := tg.Snapshot()

	tg.Handle(link.Down{Iface: netcfg.Wired})
	after := tg.Snapshot()

	if after.Wired.State != iface.Down || after.Wired.Addr.IP != nil {
		t.Errorf("expected wired Down with no address; got %+v", after.Wired)
	}
	if diff := cmp.Diff(before.Wireless, after.Wireless); diff != "" {
		t.Errorf("wireless status changed; diff: %v", diff)
	}
}

func TestRun_TranslationUnavailableIsFatal(t *testing.T) {
	tg := newTestGateway(testConfig("192.168.1.50/24", "172.18.2.1/24"))
	tg.nat.availableErr = errors.New("no nat table")
	_, errc := runInBackground(t, tg.Gateway)

	tg.Events().Notify(link.Started{Iface: netcfg.WirelessAP})
	for _, ev := range wiredUp("192.168.1.50") {
		tg.Events().Notify(ev)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ErrTranslationUnavailable) {
			t.Errorf("expected ErrTranslationUnavailable; got err == %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on unavailable translation")
	}
	if tg.Snapshot().TranslationEnabled {
		t.Error("translation reported enabled without a translator")
	}
}

func TestHandle_NoTranslatorIsFatal(t *testing.T) {
	cfg := testConfig("192.168.1.50/24", "172.18.2.1/24")
	g := New(cfg, Drivers{})

	g.Handle(link.Started{Iface: netcfg.WirelessAP})
	for _, ev := range wiredUp("192.168.1.50") {
		g.Handle(ev)
	}

	if err := g.Err(); !errors.Is(err, ErrTranslationUnavailable) {
		t.Errorf("expected ErrTranslationUnavailable; got err == %v", err)
	}
	g.actions.Wait()
}

func TestRun_AccessPointDownIsFatal(t *testing.T) {
	tg := newTestGateway(testConfig("192.168.1.50/24", "172.18.2.1/24"))
	_, errc := runInBackground(t, tg.Gateway)

	for _, ev := range wiredUp("192.168.1.50") {
		tg.Events().Notify(ev)
	}
	tg.Events().Notify(link.Started{Iface: netcfg.WirelessAP})
	waitFor(t, tg.Gateway, "translation", func(s Snapshot) bool { return s.TranslationEnabled })

	tg.Events().Notify(link.Down{Iface: netcfg.WirelessAP})

	select {
	case err := <-errc:
		if !errors.Is(err, ErrAccessPointDown) {
			t.Errorf("expected ErrAccessPointDown; got err == %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop when the access point went down")
	}
	if err := tg.Err(); !errors.Is(err, ErrAccessPointDown) {
		t.Errorf("expected Err() == ErrAccessPointDown; got %v", err)
	}
	if s := tg.Snapshot(); s.Wireless.State != iface.Down {
		t.Errorf("expected the access point reported Down; got %v", s.Wireless)
	}
}

func TestHandle_AccessPointDownBeforeStartIgnored(t *testing.T) {
	tg := newTestGateway(testConfig("192.168.1.50/24", "172.18.2.1/24"))

	tg.Handle(link.Down{Iface: netcfg.WirelessAP})

	if err := tg.Err(); err != nil {
		t.Errorf("expected err == nil; got err == %v", err)
	}
}

func TestHandle_AvailableBoundedByTimeout(t *testing.T) {
	defer func(d time.Duration) { translateTimeout = d }(translateTimeout)
	translateTimeout = 20 * time.Millisecond

	tg := newTestGateway(testConfig("192.168.1.50/24", "172.18.2.1/24"))
	tg.nat.availableBlocks = true

	done := make(chan struct{})
	go func() {
		defer close(done)
		tg.Handle(link.Started{Iface: netcfg.WirelessAP})
		for _, ev := range wiredUp("192.168.1.50") {
			tg.Handle(ev)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Handle stuck behind a translator that never answers")
	}
	err := tg.Err()
	if !errors.Is(err, ErrTranslationUnavailable) || !strings.Contains(err.Error(), context.DeadlineExceeded.Error()) {
		t.Errorf("expected ErrTranslationUnavailable after a deadline; got err == %v", err)
	}
	tg.actions.Wait()
}

func TestSnapshot_Uptime(t *testing.T) {
	now := time.Unix(1000, 0)
	cfg := testConfig("192.168.1.50/24", "172.18.2.1/24")
	cfg.Now = func() time.Time { return now }
	g := New(cfg, Drivers{})

	now = now.Add(90 * time.Second)

	if u := g.Snapshot().Uptime; u != 90*time.Second {
		t.Errorf("expected uptime 1m30s; got %v", u)
	}
}

func TestBringUp_MissingDriver(t *testing.T) {
	g := New(testConfig("192.168.1.50/24", "172.18.2.1/24"), Drivers{})

	var ce *ConfigError
	if err := g.BringUp(context.Background()); !errors.As(err, &ce) {
		t.Errorf("expected *ConfigError; got err == %v", err)
	}
}
