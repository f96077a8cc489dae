// Package mdns answers multicast DNS queries for the gateway's own name
// ("<hostname>.local") on one link.
package mdns // import "go.jonnrb.io/apgw/discovery/mdns"

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"

	"github.com/miekg/dns"
	"go.jonnrb.io/apgw/gateway"
	"go.jonnrb.io/apgw/log"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

const (
	Port = 5353

	// Records are cached by resolvers for this long.
	TTL = 120

	cacheFlush = 1 << 15
)

var Group = net.IPv4(224, 0, 0, 251)

type Responder struct {
	// The link to answer on.
	Link string

	mu   sync.Mutex
	name string
	ip   net.IP
	pc   *ipv4.PacketConn
	ifi  *net.Interface
}

var _ gateway.NameRegistrar = (*Responder)(nil)

// The name hostname is answered as.
func Name(hostname string) string {
	return dns.Fqdn(strings.ToLower(hostname) + ".local")
}

// Starts answering for hostname with ip, and announces it if the responder is
// running.
func (r *Responder) Register(ctx context.Context, hostname string, ip net.IP) error {
	if strings.Contains(hostname, ".") {
		return fmt.Errorf("mdns: hostname %q must be a single label", hostname)
	}
	name := Name(hostname)
	if _, ok := dns.IsDomainName(name); !ok || hostname == "" {
		return fmt.Errorf("mdns: invalid hostname %q", hostname)
	}
	if ip.To4() == nil {
		return fmt.Errorf("mdns: %v is not an IPv4 address", ip)
	}

	r.mu.Lock()
	r.name, r.ip = name, ip.To4()
	pc, ifi := r.pc, r.ifi
	r.mu.Unlock()

	log.Infof("mdns: answering for %s at %v", name, ip)
	if pc == nil {
		return nil
	}
	return announce(pc, ifi, r.record())
}

func (r *Responder) record() *dns.A {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.name == "" {
		return nil
	}
	return &dns.A{
		Hdr: dns.RR_Header{
			Name:   r.name,
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    TTL,
		},
		A: r.ip,
	}
}

// Builds the reply to q, or returns nil if q isn't asking about rr. Legacy
// (non-5353 source port) queries get a conventional unicast DNS reply.
func answer(q *dns.Msg, rr *dns.A, legacy bool) *dns.Msg {
	if rr == nil || q.Response || q.Opcode != dns.OpcodeQuery {
		return nil
	}

	var match bool
	for _, qu := range q.Question {
		if qu.Qclass&^cacheFlush != dns.ClassINET && qu.Qclass&^cacheFlush != dns.ClassANY {
			continue
		}
		if qu.Qtype != dns.TypeA && qu.Qtype != dns.TypeANY {
			continue
		}
		if strings.EqualFold(qu.Name, rr.Hdr.Name) {
			match = true
		}
	}
	if !match {
		return nil
	}

	a := *rr
	m := new(dns.Msg)
	m.Response = true
	m.Authoritative = true
	if legacy {
		m.Id = q.Id
		m.Question = q.Question
		a.Hdr.Ttl = 10
	} else {
		a.Hdr.Class |= cacheFlush
	}
	m.Answer = []dns.RR{&a}
	return m
}

func announce(pc *ipv4.PacketConn, ifi *net.Interface, rr *dns.A) error {
	if rr == nil {
		return nil
	}
	a := *rr
	a.Hdr.Class |= cacheFlush
	m := new(dns.Msg)
	m.Response = true
	m.Authoritative = true
	m.Answer = []dns.RR{&a}
	return send(pc, ifi, m, &net.UDPAddr{IP: Group, Port: Port})
}

func send(pc *ipv4.PacketConn, ifi *net.Interface, m *dns.Msg, to net.Addr) error {
	b, err := m.Pack()
	if err != nil {
		return fmt.Errorf("mdns: could not pack reply: %w", err)
	}
	cm := &ipv4.ControlMessage{IfIndex: ifi.Index}
	if _, err := pc.WriteTo(b, cm, to); err != nil {
		return fmt.Errorf("mdns: could not send reply: %w", err)
	}
	return nil
}

func reuse(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if serr == nil {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		}
	})
	if err != nil {
		return err
	}
	return serr
}

func (r *Responder) listen(ctx context.Context) (*ipv4.PacketConn, *net.Interface, error) {
	ifi, err := net.InterfaceByName(r.Link)
	if err != nil {
		return nil, nil, fmt.Errorf("mdns: could not get interface %q: %w", r.Link, err)
	}
	lc := net.ListenConfig{Control: reuse}
	c, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", Port))
	if err != nil {
		return nil, nil, fmt.Errorf("mdns: could not listen: %w", err)
	}

	pc := ipv4.NewPacketConn(c)
	fail := func(what string, err error) (*ipv4.PacketConn, *net.Interface, error) {
		c.Close()
		return nil, nil, fmt.Errorf("mdns: could not %s on %q: %w", what, r.Link, err)
	}
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: Group}); err != nil {
		return fail("join group", err)
	}
	if err := pc.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		return fail("enable control messages", err)
	}
	if err := pc.SetMulticastInterface(ifi); err != nil {
		return fail("set multicast interface", err)
	}
	if err := pc.SetMulticastTTL(255); err != nil {
		return fail("set multicast TTL", err)
	}
	return pc, ifi, nil
}

// Answers queries until ctx is done.
func (r *Responder) Run(ctx context.Context) error {
	pc, ifi, err := r.listen(ctx)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		pc.Close()
	}()

	r.mu.Lock()
	r.pc, r.ifi = pc, ifi
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.pc, r.ifi = nil, nil
		r.mu.Unlock()
	}()

	if err := announce(pc, ifi, r.record()); err != nil {
		log.Warningf("%v", err)
	}

	buf := make([]byte, 9000)
	for {
		n, cm, src, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("mdns: read error: %w", err)
		}
		if cm != nil && cm.IfIndex != ifi.Index {
			continue
		}

		q := new(dns.Msg)
		if err := q.Unpack(buf[:n]); err != nil {
			log.V(3).Infof("mdns: dropping bad packet from %v: %v", src, err)
			continue
		}

		legacy := false
		if u, ok := src.(*net.UDPAddr); ok && u.Port != Port {
			legacy = true
		}
		m := answer(q, r.record(), legacy)
		if m == nil {
			continue
		}

		to := net.Addr(&net.UDPAddr{IP: Group, Port: Port})
		if legacy {
			to = src
		}
		if err := send(pc, ifi, m, to); err != nil {
			log.Warningf("%v", err)
		}
	}
}
