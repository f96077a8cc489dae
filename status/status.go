// Package status renders gateway snapshots for humans: a periodic summary
// block and one-line notes as interfaces change state.
package status // import "go.jonnrb.io/apgw/status"

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.jonnrb.io/apgw/gateway"
	"go.jonnrb.io/apgw/iface"
	"go.jonnrb.io/apgw/link"
	"go.jonnrb.io/apgw/log"
	"go.jonnrb.io/apgw/netcfg"
)

const DefaultPeriod = 30 * time.Second

type Source interface {
	Snapshot() gateway.Snapshot
}

type Reporter struct {
	Source Source

	// Defaults to DefaultPeriod.
	Period time.Duration

	// Defaults to the Info log.
	Out log.InfoLog

	// Network name the access point broadcasts, noted when it starts.
	SSID string

	mu   sync.Mutex
	last time.Time
}

func (r *Reporter) out() log.InfoLog {
	if r.Out == nil {
		return log.V(0)
	}
	return r.Out
}

func (r *Reporter) period() time.Duration {
	if r.Period <= 0 {
		return DefaultPeriod
	}
	return r.Period
}

// Emits a summary if a period has passed since the last one (or since the
// first Tick). Cheap enough to call from a polling loop; returns whether a
// summary was emitted.
func (r *Reporter) Tick(now time.Time) bool {
	r.mu.Lock()
	if r.last.IsZero() {
		r.last = now
		r.mu.Unlock()
		return false
	}
	if now.Sub(r.last) < r.period() {
		r.mu.Unlock()
		return false
	}
	r.last = now
	r.mu.Unlock()

	r.Report()
	return true
}

// Emits a summary of the current snapshot now.
func (r *Reporter) Report() {
	out := r.out()
	for _, l := range Render(r.Source.Snapshot()) {
		out.Info(l)
	}
}

// Logs the per-event lines for a state machine transition.
func (r *Reporter) Transition(t iface.Transition) {
	ls := TransitionLines(t)
	if _, ok := t.Event.(link.Started); ok && t.To.Role == netcfg.WirelessAP && len(ls) > 0 && r.SSID != "" {
		ssid := fmt.Sprintf("%s SSID: %s", t.To.Role.Tag(), r.SSID)
		ls = append([]string{ls[0], ssid}, ls[1:]...)
	}

	out := r.out()
	for _, l := range ls {
		out.Info(l)
	}
}

// Serves the same summary as plain text.
func (r *Reporter) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, l := range Render(r.Source.Snapshot()) {
		io.WriteString(w, l+"\n")
	}
}

func upDown(s iface.Status) string {
	if s.Up() {
		return "UP"
	}
	return "DOWN"
}

func Render(s gateway.Snapshot) []string {
	lines := []string{
		"=== STATUS ===",
		fmt.Sprintf("Uptime : %ds", int64(s.Uptime/time.Second)),
	}

	eth := fmt.Sprintf("ETH    : %s", upDown(s.Wired))
	if s.Wired.Up() {
		eth += fmt.Sprintf(" %v", s.Wired.Addr)
	} else if s.Wired.State != iface.Down {
		eth += fmt.Sprintf(" (%v)", s.Wired.State)
	}
	lines = append(lines, eth)

	ap := fmt.Sprintf("WiFi AP: %s", upDown(s.Wireless))
	if s.Wireless.Up() {
		ap += fmt.Sprintf(" %v", s.Wireless.Addr)
	}
	ap += fmt.Sprintf(" (%d clients)", s.Wireless.Peers)
	lines = append(lines, ap)

	if s.TranslationEnabled {
		lines = append(lines, "NAT    : enabled")
	} else {
		lines = append(lines, "NAT    : disabled")
	}
	for _, d := range s.Degraded {
		lines = append(lines, "DEGRADED: "+d)
	}
	return append(lines, "==============")
}

func TransitionLines(t iface.Transition) []string {
	tag := t.To.Role.Tag()
	line := func(format string, args ...interface{}) string {
		return tag + " " + fmt.Sprintf(format, args...)
	}

	switch e := t.Event.(type) {
	case link.Started:
		if t.From.State != iface.Down {
			return nil
		}
		if t.To.Role == netcfg.WirelessAP {
			return []string{line("Started"), line("IP: %v", t.To.Addr.IP)}
		}
		return []string{line("Started")}
	case link.Up:
		if t.Changed() {
			return []string{line("Link UP")}
		}
	case link.AddressAcquired:
		if t.To.State == iface.Ready {
			return []string{
				line("IP: %v", t.To.Addr.IP),
				line("GW: %v", t.To.Gateway),
				line("SN: %v", net.IP(t.To.Addr.Mask)),
			}
		}
	case link.Down:
		if t.Changed() {
			return []string{line("Link DOWN")}
		}
	case link.PeerJoined:
		if t.To.Peers != t.From.Peers {
			return []string{line("Client joined %v (%d total)", e.MAC, t.To.Peers)}
		}
	case link.PeerLeft:
		if t.To.Peers != t.From.Peers {
			return []string{line("Client left %v (%d total)", e.MAC, t.To.Peers)}
		}
	}
	return nil
}
