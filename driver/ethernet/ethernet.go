// Package ethernet drives the wired uplink with a static address through
// netlink.
package ethernet // import "go.jonnrb.io/apgw/driver/ethernet"

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/vishvananda/netlink"
	"go.jonnrb.io/apgw/driver/driverutil"
	"go.jonnrb.io/apgw/gateway"
	"go.jonnrb.io/apgw/link"
	"go.jonnrb.io/apgw/log"
	"go.jonnrb.io/apgw/netcfg"
	"golang.org/x/sys/unix"
)

var l = log.Tagged(netcfg.Wired.Tag())

type Driver struct {
	Events link.Notifier

	// If set, a resolv.conf naming the configured DNS server is written
	// here.
	ResolvConf string

	mu  sync.Mutex
	cfg *netcfg.InterfaceConfig
}

var _ gateway.WiredDriver = (*Driver)(nil)

func New(events link.Notifier) *Driver {
	return &Driver{Events: events}
}

func (d *Driver) Configure(ctx context.Context, cfg netcfg.InterfaceConfig) error {
	if cfg.Role != netcfg.Wired {
		return fmt.Errorf("ethernet: can't drive a %v interface", cfg.Role)
	}

	steps := []driverutil.Step{&driverutil.IP{Link: cfg.Link, Addr: cfg.Addr}}
	if cfg.Gateway != nil {
		steps = append(steps, &driverutil.DefaultRoute{Link: cfg.Link, GW: cfg.Gateway})
	}
	if err := (&driverutil.Steps{Steps: steps}).Start(); err != nil {
		return fmt.Errorf("ethernet: %w", err)
	}

	if d.ResolvConf != "" && cfg.DNS != nil {
		if err := driverutil.WriteResolvConf(d.ResolvConf, cfg.DNS.String()); err != nil {
			// Not fatal to the interface.
			l.Warningf("could not set DNS server: %v", err)
		} else {
			log.V(1).Infof("[ETH] DNS server set to %v", cfg.DNS)
		}
	}

	d.mu.Lock()
	d.cfg = &cfg
	d.mu.Unlock()
	return nil
}

func (d *Driver) config() (netcfg.InterfaceConfig, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg == nil {
		return netcfg.InterfaceConfig{}, errors.New("ethernet: not configured")
	}
	return *d.cfg, nil
}

// Subscribes to link and address changes, then sets the link up. Events are
// reported until ctx is done.
func (d *Driver) Start(ctx context.Context) error {
	cfg, err := d.config()
	if err != nil {
		return err
	}
	nl, err := netlink.LinkByName(cfg.Link)
	if err != nil {
		return fmt.Errorf("ethernet: failed to get link %q: %w", cfg.Link, err)
	}

	done := make(chan struct{})
	linkCh := make(chan netlink.LinkUpdate)
	addrCh := make(chan netlink.AddrUpdate)
	onErr := func(err error) { l.Warningf("netlink subscription error: %v", err) }

	err = netlink.LinkSubscribeWithOptions(linkCh, done, netlink.LinkSubscribeOptions{
		ListExisting:  true,
		ErrorCallback: onErr,
	})
	if err != nil {
		close(done)
		return fmt.Errorf("ethernet: could not watch links: %w", err)
	}
	err = netlink.AddrSubscribeWithOptions(addrCh, done, netlink.AddrSubscribeOptions{
		ListExisting:  true,
		ErrorCallback: onErr,
	})
	if err != nil {
		close(done)
		return fmt.Errorf("ethernet: could not watch addresses: %w", err)
	}

	if err := d.raise(&driverutil.Up{Link: cfg.Link}); err != nil {
		close(done)
		return err
	}

	t := &tracker{cfg: cfg, index: nl.Attrs().Index}
	go d.watch(ctx, done, t, linkCh, addrCh)
	return nil
}

// Sets the link up and only then reports the interface started, so a link
// that can't be raised stays Down.
func (d *Driver) raise(up driverutil.Step) error {
	if err := up.Start(); err != nil {
		return fmt.Errorf("ethernet: %w", err)
	}
	d.Events.Notify(link.Started{Iface: netcfg.Wired})
	return nil
}

func (d *Driver) watch(ctx context.Context, done chan struct{}, t *tracker, linkCh <-chan netlink.LinkUpdate, addrCh <-chan netlink.AddrUpdate) {
	defer close(done)

	for {
		var evs []link.Event
		select {
		case <-ctx.Done():
			return
		case u, ok := <-linkCh:
			if !ok {
				l.Error("link subscription closed")
				return
			}
			a := u.Link.Attrs()
			evs = t.link(a.Index, isUp(a))
		case u, ok := <-addrCh:
			if !ok {
				l.Error("address subscription closed")
				return
			}
			evs = t.addr(u.LinkIndex, u.LinkAddress, u.NewAddr)
		}

		for _, ev := range evs {
			d.Events.Notify(ev)
			if a, ok := ev.(link.AddressAcquired); ok {
				d.announce(a.IP)
			}
		}
	}
}

func (d *Driver) announce(ip net.IP) {
	arp := &driverutil.GratuitousARP{Link: d.cfgLink(), IP: ip}
	if err := arp.Start(); err != nil {
		log.V(1).Infof("[ETH] gratuitous ARP failed: %v", err)
	}
}

func (d *Driver) cfgLink() string {
	cfg, _ := d.config()
	return cfg.Link
}

func isUp(a *netlink.LinkAttrs) bool {
	return a.Flags&net.FlagUp != 0 && a.RawFlags&unix.IFF_LOWER_UP != 0
}

func (d *Driver) SetHostname(ctx context.Context, hostname string) error {
	return driverutil.SetHostname(hostname)
}

// Turns netlink updates for one link into events. Not safe for concurrent
// use.
type tracker struct {
	cfg   netcfg.InterfaceConfig
	index int

	up      bool
	hasAddr bool
	mask    net.IPMask

	// Down was reported for a carrier that is still up because the address
	// went away. Getting it back has to bring the link up again.
	lost bool
}

func (t *tracker) acquired() link.Event {
	return link.AddressAcquired{
		Iface:   netcfg.Wired,
		IP:      t.cfg.Addr.IP,
		Gateway: t.cfg.Gateway,
		Mask:    t.mask,
	}
}

func (t *tracker) link(index int, up bool) []link.Event {
	if index != t.index || up == t.up {
		return nil
	}
	t.up, t.lost = up, false
	if !up {
		return []link.Event{link.Down{Iface: netcfg.Wired}}
	}

	// A static address survives the link bouncing, so no address update
	// follows; report it along with the link.
	evs := []link.Event{link.Up{Iface: netcfg.Wired}}
	if t.hasAddr {
		evs = append(evs, t.acquired())
	}
	return evs
}

func (t *tracker) addr(index int, a net.IPNet, isNew bool) []link.Event {
	if index != t.index || a.IP.To4() == nil || !a.IP.Equal(t.cfg.Addr.IP) {
		return nil
	}
	if !isNew {
		had := t.hasAddr
		t.hasAddr = false
		if !had || !t.up {
			return nil
		}
		t.lost = true
		return []link.Event{link.Down{Iface: netcfg.Wired}}
	}
	t.hasAddr, t.mask = true, a.Mask
	if !t.up {
		return nil
	}
	if t.lost {
		t.lost = false
		return []link.Event{link.Up{Iface: netcfg.Wired}, t.acquired()}
	}
	return []link.Event{t.acquired()}
}
