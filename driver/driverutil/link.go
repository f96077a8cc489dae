package driverutil

import (
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"go.jonnrb.io/apgw/netcfg"
	"golang.org/x/sys/unix"
)

type Up struct {
	Link string
}

func (a *Up) Start() error {
	l, err := netlink.LinkByName(a.Link)
	if err != nil {
		return fmt.Errorf("driverutil: failed to get link %q: %w", a.Link, err)
	}
	if err := netlink.LinkSetUp(l); err != nil {
		return fmt.Errorf("driverutil: failed to up link %q: %w", a.Link, err)
	}
	return nil
}

func (a *Up) Stop() error {
	l, err := netlink.LinkByName(a.Link)
	if err != nil {
		return fmt.Errorf("driverutil: failed to get link %q: %w", a.Link, err)
	}
	if err := netlink.LinkSetDown(l); err != nil {
		return fmt.Errorf("driverutil: failed to down link %q: %w", a.Link, err)
	}
	return nil
}

// Converts to the form netlink wants.
func NetlinkAddr(a netcfg.Addr) *netlink.Addr {
	return &netlink.Addr{IPNet: &net.IPNet{IP: a.IP, Mask: a.Mask}}
}

type IP struct {
	Link string
	Addr netcfg.Addr
}

func (ip *IP) Start() error {
	l, err := netlink.LinkByName(ip.Link)
	if err != nil {
		return fmt.Errorf("driverutil: failed to get link %q: %w", ip.Link, err)
	}
	err = netlink.AddrAdd(l, NetlinkAddr(ip.Addr))
	// EEXIST is ok.
	if errors.Is(err, unix.EEXIST) {
		return nil
	}
	if err != nil {
		return fmt.Errorf(
			"driverutil: could not add addr %v to %q: %w", ip.Addr, ip.Link, err)
	}
	return nil
}

func (ip *IP) Stop() error {
	l, err := netlink.LinkByName(ip.Link)
	if err != nil {
		return fmt.Errorf("driverutil: failed to get link %q: %w", ip.Link, err)
	}
	if err := netlink.AddrDel(l, NetlinkAddr(ip.Addr)); err != nil {
		return fmt.Errorf(
			"driverutil: could not delete addr %v from %q: %w", ip.Addr, ip.Link, err)
	}
	return nil
}
