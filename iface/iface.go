// Package iface derives a coarse up/down status for one gateway interface from
// the stream of link events its driver reports.
//
// The transition table is:
//
//	wired:
//	  Down     --Started-->         Starting   (assign hostname)
//	  Starting --Up-->              LinkUp
//	  Down     --Up-->              LinkUp     (only after a prior Started)
//	  LinkUp   --AddressAcquired--> Ready      (store address; register name)
//	  Ready    --AddressAcquired--> Ready      (replace address)
//	  LinkUp   --Down-->            Down
//	  Ready    --Down-->            Down       (clear address)
//
//	wireless AP:
//	  Down     --Started-->         Ready      (assign hostname; store address)
//	  Ready    --PeerJoined-->      Ready      (peers + 1)
//	  Ready    --PeerLeft-->        Ready      (peers - 1, not below 0)
//	  Ready    --Down-->            Down       (clear address and peers)
//
// Everything else leaves the status unchanged.
package iface // import "go.jonnrb.io/apgw/iface"

import (
	"fmt"
	"net"

	"go.jonnrb.io/apgw/link"
	"go.jonnrb.io/apgw/netcfg"
)

type State int

const (
	Down State = iota
	Starting
	LinkUp
	Ready
)

func (s State) String() string {
	switch s {
	case Down:
		return "Down"
	case Starting:
		return "Starting"
	case LinkUp:
		return "LinkUp"
	case Ready:
		return "Ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Status struct {
	Role  netcfg.Role
	State State

	// Set only while State is Ready.
	Addr    netcfg.Addr
	Gateway net.IP

	// Associated clients. Always 0 for the wired interface.
	Peers int
}

func (s Status) Up() bool {
	return s.State == Ready
}

func (s Status) String() string {
	switch {
	case s.State != Ready:
		return s.State.String()
	case s.Role == netcfg.WirelessAP:
		return fmt.Sprintf("Ready@%v (%d peers)", s.Addr.IP, s.Peers)
	default:
		return fmt.Sprintf("Ready@%v", s.Addr.IP)
	}
}

// A side effect the owner of a Machine should perform after a transition.
// Machines never perform I/O themselves.
type Action int

const (
	// Push the configured hostname to the link driver.
	AssignHostname Action = iota + 1

	// Announce the hostname on the local network.
	RegisterName
)

func (a Action) String() string {
	switch a {
	case AssignHostname:
		return "AssignHostname"
	case RegisterName:
		return "RegisterName"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

type Transition struct {
	Event    link.Event
	From, To Status
	Actions  []Action
}

// Whether the event changed the coarse state (peer count changes don't
// count).
func (t Transition) Changed() bool {
	return t.From.State != t.To.State
}

// Whether the interface became usable with this event.
func (t Transition) EnteredReady() bool {
	return t.From.State != Ready && t.To.State == Ready
}

// Tracks one interface. Not safe for concurrent use; the orchestrator is its
// only caller.
type Machine struct {
	cfg     netcfg.InterfaceConfig
	st      Status
	started bool
}

func New(cfg netcfg.InterfaceConfig) *Machine {
	return &Machine{
		cfg: cfg,
		st:  Status{Role: cfg.Role, State: Down},
	}
}

func (m *Machine) Status() Status {
	return m.st
}

// Feeds ev through the transition table. Events for a different role are
// ignored.
func (m *Machine) Apply(ev link.Event) Transition {
	t := Transition{Event: ev, From: m.st}
	if ev != nil && ev.Role() == m.cfg.Role {
		switch m.cfg.Role {
		case netcfg.Wired:
			t.Actions = m.applyWired(ev)
		case netcfg.WirelessAP:
			t.Actions = m.applyAP(ev)
		}
	}
	t.To = m.st
	return t
}

func (m *Machine) applyWired(ev link.Event) []Action {
	switch e := ev.(type) {
	case link.Started:
		if m.st.State == Down {
			m.started = true
			m.st.State = Starting
			return []Action{AssignHostname}
		}
	case link.Up:
		switch {
		case m.st.State == Starting:
			m.st.State = LinkUp
		case m.st.State == Down && m.started:
			m.st.State = LinkUp
		}
	case link.AddressAcquired:
		switch m.st.State {
		case LinkUp:
			m.setAddr(e)
			m.st.State = Ready
			return []Action{RegisterName}
		case Ready:
			m.setAddr(e)
		}
	case link.Down:
		switch m.st.State {
		case LinkUp, Ready:
			m.st.State = Down
			m.st.Addr, m.st.Gateway = netcfg.Addr{}, nil
		}
	}
	return nil
}

func (m *Machine) applyAP(ev link.Event) []Action {
	switch ev.(type) {
	case link.Started:
		if m.st.State == Down {
			m.started = true
			m.st.State = Ready
			m.st.Addr = m.cfg.Addr
			m.st.Gateway = m.cfg.Addr.IP
			return []Action{AssignHostname}
		}
	case link.PeerJoined:
		if m.st.State >= Starting {
			m.st.Peers++
		}
	case link.PeerLeft:
		if m.st.State >= Starting && m.st.Peers > 0 {
			m.st.Peers--
		}
	case link.Down:
		if m.st.State == Ready {
			m.st.State = Down
			m.st.Addr, m.st.Gateway = netcfg.Addr{}, nil
			m.st.Peers = 0
		}
	}
	return nil
}

func (m *Machine) setAddr(e link.AddressAcquired) {
	mask := e.Mask
	if mask == nil {
		mask = m.cfg.Addr.Mask
	}
	m.st.Addr = netcfg.Addr{
		IP:   append(net.IP(nil), e.IP...),
		Mask: append(net.IPMask(nil), mask...),
	}
	m.st.Gateway = append(net.IP(nil), e.Gateway...)
}
