package gateway

import (
	"context"
	"net"

	"go.jonnrb.io/apgw/netcfg"
)

// Operations common to both link drivers. Drivers report progress through the
// link.Notifier they were constructed with; none of these methods should wait
// for the link itself.
type Driver interface {
	// Applies static addressing to the link. An error means the driver
	// rejected the configuration and the interface will stay Down.
	Configure(ctx context.Context, cfg netcfg.InterfaceConfig) error

	SetHostname(ctx context.Context, hostname string) error
}

type WiredDriver interface {
	Driver

	// Starts the link. The driver emits Started, then Up and AddressAcquired
	// as the link comes up.
	Start(ctx context.Context) error
}

type APDriver interface {
	Driver

	// Starts the radio. The driver emits Started once the AP is serving and
	// PeerJoined/PeerLeft as clients come and go.
	Start(ctx context.Context, p APParams) error
}

// Radio parameters for the access point.
type APParams struct {
	SSID       string
	Passphrase string
	Channel    int
	Hidden     bool
	MaxPeers   int

	// Informational; DHCP is served by something else on the AP link.
	DHCPStart, DHCPEnd net.IP
}

// Enables address translation from the AP subnet out through the wired link.
type Translator interface {
	// Returns nil iff this platform can translate at all. Must give up once
	// ctx is done.
	Available(ctx context.Context) error

	// inside is the AP config; outside is the wired config carrying the
	// address the wired link actually acquired.
	Enable(ctx context.Context, inside, outside netcfg.InterfaceConfig) error
}

// Announces the gateway's hostname on the wired network.
type NameRegistrar interface {
	Register(ctx context.Context, hostname string, ip net.IP) error
}

type Drivers struct {
	Wired      WiredDriver
	AP         APDriver
	Translator Translator

	// Optional.
	Names NameRegistrar
}
