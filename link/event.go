// Package link carries link-level events from the interface drivers to the
// gateway orchestrator.
package link // import "go.jonnrb.io/apgw/link"

import (
	"fmt"
	"net"

	"go.jonnrb.io/apgw/netcfg"
)

// One of Started, Up, AddressAcquired, Down, PeerJoined, or PeerLeft. The set
// is closed; consumers should ignore values they don't recognize.
type Event interface {
	// The interface the event concerns.
	Role() netcfg.Role

	String() string

	isEvent()
}

// The driver has started the interface (the radio is up for the AP).
type Started struct{ Iface netcfg.Role }

// The physical link came up.
type Up struct{ Iface netcfg.Role }

// The interface holds an address and is usable.
type AddressAcquired struct {
	Iface   netcfg.Role
	IP      net.IP
	Gateway net.IP
	Mask    net.IPMask
}

// The physical link went down.
type Down struct{ Iface netcfg.Role }

// A client associated with the AP.
type PeerJoined struct {
	Iface netcfg.Role
	MAC   net.HardwareAddr
}

// A client disassociated from the AP.
type PeerLeft struct {
	Iface netcfg.Role
	MAC   net.HardwareAddr
}

func (e Started) Role() netcfg.Role         { return e.Iface }
func (e Up) Role() netcfg.Role              { return e.Iface }
func (e AddressAcquired) Role() netcfg.Role { return e.Iface }
func (e Down) Role() netcfg.Role            { return e.Iface }
func (e PeerJoined) Role() netcfg.Role      { return e.Iface }
func (e PeerLeft) Role() netcfg.Role        { return e.Iface }

func (Started) isEvent()         {}
func (Up) isEvent()              {}
func (AddressAcquired) isEvent() {}
func (Down) isEvent()            {}
func (PeerJoined) isEvent()      {}
func (PeerLeft) isEvent()        {}

func (e Started) String() string { return fmt.Sprintf("%v started", e.Iface) }
func (e Up) String() string      { return fmt.Sprintf("%v link up", e.Iface) }
func (e Down) String() string    { return fmt.Sprintf("%v link down", e.Iface) }

func (e AddressAcquired) String() string {
	ones, _ := e.Mask.Size()
	return fmt.Sprintf("%v got address %v/%d gw %v", e.Iface, e.IP, ones, e.Gateway)
}

func (e PeerJoined) String() string { return fmt.Sprintf("%v peer %v joined", e.Iface, e.MAC) }
func (e PeerLeft) String() string   { return fmt.Sprintf("%v peer %v left", e.Iface, e.MAC) }
