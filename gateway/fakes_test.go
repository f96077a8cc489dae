package gateway

import (
	"context"
	"net"
	"sync"

	"go.jonnrb.io/apgw/link"
	"go.jonnrb.io/apgw/netcfg"
)

type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *callRecorder) record(c string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, c)
}

func (r *callRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}

type fakeWired struct {
	rec          *callRecorder
	n            link.Notifier
	configureErr error
	startErr     error

	// Events emitted when Start is called.
	onStart []link.Event
}

func (d *fakeWired) Configure(_ context.Context, cfg netcfg.InterfaceConfig) error {
	d.rec.record("wired.Configure")
	return d.configureErr
}

func (d *fakeWired) Start(_ context.Context) error {
	d.rec.record("wired.Start")
	if d.startErr != nil {
		return d.startErr
	}
	for _, ev := range d.onStart {
		d.n.Notify(ev)
	}
	return nil
}

func (d *fakeWired) SetHostname(_ context.Context, h string) error {
	d.rec.record("wired.SetHostname " + h)
	return nil
}

type fakeAP struct {
	rec      *callRecorder
	n        link.Notifier
	startErr error
	params   APParams
}

func (d *fakeAP) Configure(_ context.Context, cfg netcfg.InterfaceConfig) error {
	d.rec.record("ap.Configure")
	return nil
}

func (d *fakeAP) Start(_ context.Context, p APParams) error {
	d.rec.record("ap.Start")
	d.params = p
	if d.startErr != nil {
		return d.startErr
	}
	d.n.Notify(link.Started{Iface: netcfg.WirelessAP})
	return nil
}

func (d *fakeAP) SetHostname(_ context.Context, h string) error {
	d.rec.record("ap.SetHostname " + h)
	return nil
}

type fakeTranslator struct {
	mu           sync.Mutex
	availableErr error
	enableErrs   []error
	enabled      int
	inside       netcfg.InterfaceConfig
	outside      netcfg.InterfaceConfig

	// Makes Available wait for its context, like a wedged iptables.
	availableBlocks bool
}

func (t *fakeTranslator) Available(ctx context.Context) error {
	if t.availableBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	return t.availableErr
}

func (t *fakeTranslator) Enable(_ context.Context, inside, outside netcfg.InterfaceConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.enableErrs) > 0 {
		err := t.enableErrs[0]
		t.enableErrs = t.enableErrs[1:]
		return err
	}
	t.enabled++
	t.inside, t.outside = inside, outside
	return nil
}

func (t *fakeTranslator) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.enabled
}

type fakeNames struct {
	rec *callRecorder
}

func (n fakeNames) Register(_ context.Context, hostname string, ip net.IP) error {
	n.rec.record("names.Register " + hostname + " " + ip.String())
	return nil
}
