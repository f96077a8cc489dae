package driverutil

import (
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// A default route through GW on Link.
type DefaultRoute struct {
	Link string
	GW   net.IP
}

func (r *DefaultRoute) route() (*netlink.Route, error) {
	l, err := netlink.LinkByName(r.Link)
	if err != nil {
		return nil, fmt.Errorf("driverutil: failed to get link %q: %w", r.Link, err)
	}
	return &netlink.Route{
		LinkIndex: l.Attrs().Index,
		Gw:        r.GW,

		// Lets the route go in before the link has carrier.
		Flags: int(netlink.FLAG_ONLINK),
	}, nil
}

func (r *DefaultRoute) Start() error {
	route, err := r.route()
	if err != nil {
		return err
	}
	err = netlink.RouteAdd(route)
	// EEXIST is ok.
	if errors.Is(err, unix.EEXIST) {
		err = netlink.RouteReplace(route)
	}
	if err != nil {
		return fmt.Errorf("driverutil: could not route via %v on %q: %w", r.GW, r.Link, err)
	}
	return nil
}

func (r *DefaultRoute) Stop() error {
	route, err := r.route()
	if err != nil {
		return err
	}
	return netlink.RouteDel(route)
}
