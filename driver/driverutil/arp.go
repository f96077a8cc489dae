package driverutil

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/mdlayher/arp"
)

type GratuitousARP struct {
	Link string
	IP   net.IP

	// Defaults to the link's own address.
	HWAddr net.HardwareAddr
}

// Announces IP on the link so neighbors drop stale cache entries from before
// a reboot or address change.
func (a *GratuitousARP) Start() error {
	i, err := net.InterfaceByName(a.Link)
	if err != nil {
		return fmt.Errorf("driverutil: could not get interface %q: %w", a.Link, err)
	}
	hw := a.HWAddr
	if hw == nil {
		hw = i.HardwareAddr
	}
	c, err := arp.Dial(i)
	if err != nil {
		return fmt.Errorf("driverutil: could not get ARP conn: %w", err)
	}
	defer c.Close()

	ip, _ := netip.AddrFromSlice(a.IP.To4())
	p, err := arp.NewPacket(arp.OperationRequest, hw, ip, broadcastHWAddr, ip)
	if err != nil {
		return fmt.Errorf("driverutil: could not construct gratuitous ARP request: %w", err)
	}
	if err := c.WriteTo(p, broadcastHWAddr); err != nil {
		return fmt.Errorf("driverutil: could not write gratuitous ARP request: %w", err)
	}
	return nil
}

var broadcastHWAddr = net.HardwareAddr{255, 255, 255, 255, 255, 255}

// Nothing to undo.
func (a *GratuitousARP) Stop() error {
	return nil
}
