package netcfg

import (
	"fmt"
	"net"
)

// An IPv4 address together with the mask of the subnet it lives on, e.g.
// 192.168.1.50/24.
type Addr struct {
	IP   net.IP
	Mask net.IPMask
}

// Parses CIDR notation, keeping the host part of the address (unlike
// net.ParseCIDR's returned IPNet).
func ParseAddr(s string) (Addr, error) {
	ip, n, err := net.ParseCIDR(s)
	if err != nil {
		return Addr{}, fmt.Errorf("netcfg: invalid address %q: %w", s, err)
	}
	return Addr{IP: ip, Mask: n.Mask}, nil
}

// Builds an Addr from a dotted address and a dotted mask, as the wired
// configuration is usually written.
func AddrFromMask(ip, mask string) (Addr, error) {
	a := net.ParseIP(ip)
	if a == nil {
		return Addr{}, fmt.Errorf("netcfg: invalid ip %q", ip)
	}
	m := net.ParseIP(mask)
	if m == nil || m.To4() == nil {
		return Addr{}, fmt.Errorf("netcfg: invalid subnet mask %q", mask)
	}
	return Addr{IP: a, Mask: net.IPMask(m.To4())}, nil
}

func (a Addr) IsZero() bool {
	return a.IP == nil || a.IP.IsUnspecified()
}

// The subnet a lives on.
func (a Addr) Net() *net.IPNet {
	return &net.IPNet{IP: a.IP.Mask(a.Mask), Mask: a.Mask}
}

func (a Addr) Prefix() int {
	ones, _ := a.Mask.Size()
	return ones
}

func (a Addr) String() string {
	if a.IP == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s/%d", a.IP, a.Prefix())
}

func (a Addr) Equal(b Addr) bool {
	return a.IP.Equal(b.IP) && a.Mask.String() == b.Mask.String()
}

func broadcast(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	b := make(net.IP, len(ip))
	for i := range ip {
		b[i] = ip[i] | ^n.Mask[i]
	}
	return b
}

// Reports whether two subnets share any address. Subnets are aligned blocks,
// so they overlap iff one contains the other's network address.
func Overlaps(a, b *net.IPNet) bool {
	return a.Contains(b.IP) || b.Contains(a.IP)
}
