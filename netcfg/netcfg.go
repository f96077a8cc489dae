// Package netcfg holds the immutable addressing configuration for the two
// sides of the gateway and the checks that must pass before either side is
// started.
package netcfg // import "go.jonnrb.io/apgw/netcfg"

import (
	"fmt"
	"net"
)

type Role int

const (
	Wired Role = iota
	WirelessAP
)

func (r Role) String() string {
	switch r {
	case Wired:
		return "wired"
	case WirelessAP:
		return "wireless-ap"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Console tag used for this role's log lines.
func (r Role) Tag() string {
	switch r {
	case Wired:
		return "[ETH]"
	case WirelessAP:
		return "[AP]"
	default:
		return "[?]"
	}
}

type InterfaceConfig struct {
	Role Role

	// Name of the kernel link, e.g. "eth0" or "wlan0".
	Link string

	// Static address and subnet of the interface.
	Addr Addr

	// Next hop for traffic leaving the subnet. Optional for the AP, where the
	// gateway is the AP's own address.
	Gateway net.IP

	// Optional resolver handed to the link driver.
	DNS net.IP

	Hostname string
}

// Names the invariant an InterfaceConfig (or pair of them) violates.
type Error struct {
	Role      Role
	Invariant string
	Detail    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("netcfg: %v config violates %q: %s", e.Role, e.Invariant, e.Detail)
}

const (
	InvariantAddress  = "non-zero ipv4 address"
	InvariantSubnet   = "subnet consistent with address"
	InvariantGateway  = "gateway on subnet"
	InvariantHostname = "hostname present"
	InvariantLink     = "link named"
	InvariantDisjoint = "disjoint address ranges"
)

func (c InterfaceConfig) Validate() error {
	fail := func(inv, format string, args ...interface{}) error {
		return &Error{Role: c.Role, Invariant: inv, Detail: fmt.Sprintf(format, args...)}
	}

	if c.Link == "" {
		return fail(InvariantLink, "no link name")
	}
	if c.Addr.IsZero() || c.Addr.IP.To4() == nil {
		return fail(InvariantAddress, "got %v", c.Addr.IP)
	}
	ones, bits := c.Addr.Mask.Size()
	if bits != 32 || ones == 0 {
		return fail(InvariantSubnet, "bad mask %v", c.Addr.Mask)
	}
	if ones < 31 {
		n := c.Addr.Net()
		if c.Addr.IP.To4().Equal(n.IP.To4()) {
			return fail(InvariantSubnet, "%v is the network address of %v", c.Addr.IP, n)
		}
		if c.Addr.IP.To4().Equal(broadcast(n)) {
			return fail(InvariantSubnet, "%v is the broadcast address of %v", c.Addr.IP, n)
		}
	}
	if c.Gateway != nil && !c.Gateway.IsUnspecified() && !c.Addr.Net().Contains(c.Gateway) {
		return fail(InvariantGateway, "%v is not on %v", c.Gateway, c.Addr.Net())
	}
	if c.Hostname == "" {
		return fail(InvariantHostname, "no hostname")
	}
	return nil
}

// Checks that translating between the two sides is well defined: each config
// is valid on its own and their subnets share no address.
func CheckPair(wired, ap InterfaceConfig) error {
	if wired.Role != Wired {
		return &Error{Role: wired.Role, Invariant: "role", Detail: "expected the wired config first"}
	}
	if ap.Role != WirelessAP {
		return &Error{Role: ap.Role, Invariant: "role", Detail: "expected the wireless-ap config second"}
	}
	if err := wired.Validate(); err != nil {
		return err
	}
	if err := ap.Validate(); err != nil {
		return err
	}
	if wired.Link == ap.Link {
		return &Error{Role: WirelessAP, Invariant: InvariantLink, Detail: fmt.Sprintf("both sides use link %q", ap.Link)}
	}
	if wn, an := wired.Addr.Net(), ap.Addr.Net(); Overlaps(wn, an) {
		return &Error{
			Role:      WirelessAP,
			Invariant: InvariantDisjoint,
			Detail:    fmt.Sprintf("%v overlaps wired %v", an, wn),
		}
	}
	return nil
}
