// Package update gates remote firmware transfers on the wired interface being
// up, so images only ever arrive over the trusted side of the gateway.
package update // import "go.jonnrb.io/apgw/update"

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.jonnrb.io/apgw/gateway"
	"go.jonnrb.io/apgw/log"
)

var (
	ErrWiredNotReady = errors.New("update: wired interface not ready")
	ErrBusy          = errors.New("update: a transfer is already in progress")
)

// Failure codes reported by transports.
const (
	CodeAuth     = 1
	CodeReceive  = 2
	CodeWrite    = 3
	CodeTooLarge = 4
	CodeAborted  = 5
)

type Outcome int

const (
	Started Outcome = iota + 1
	Completed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Started:
		return "started"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

type Result struct {
	Outcome Outcome

	// Set when Outcome is Failed.
	Code int

	At time.Time
}

func (r Result) String() string {
	if r.Outcome == Failed {
		return fmt.Sprintf("failed(%d)", r.Code)
	}
	return r.Outcome.String()
}

// The thing actually receiving images.
type Transport interface {
	// Turns acceptance of new transfers on or off. Transfers already in
	// progress are not affected.
	SetAccepting(accept bool)
}

type Source interface {
	Snapshot() gateway.Snapshot
}

type Gate struct {
	Source    Source
	Transport Transport

	// Called with every result. Optional; must not block.
	OnResult func(Result)

	// Defaults to time.Now.
	Now func() time.Time

	mu        sync.Mutex
	synced    bool
	accepting bool
	active    bool
	last      Result
}

func (g *Gate) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

func (g *Gate) wiredReady() bool {
	return g.Source.Snapshot().Wired.Up()
}

// Syncs the transport's acceptance with the wired interface's status. Called
// from the main loop.
func (g *Gate) Service() {
	ready := g.wiredReady()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.synced && g.accepting == ready {
		return
	}
	g.synced, g.accepting = true, ready
	g.Transport.SetAccepting(ready)
	if ready {
		log.Info("[OTA] accepting updates")
	} else {
		log.Info("[OTA] not accepting updates until the wired interface is up")
	}
}

func (g *Gate) Accepting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.accepting
}

// Called by the transport when a transfer begins. A nil return admits the
// transfer; the transport must then call exactly one of Complete or Fail.
func (g *Gate) Begin() error {
	if !g.wiredReady() {
		log.Warning("[OTA] rejected transfer: wired interface not ready")
		return ErrWiredNotReady
	}

	g.mu.Lock()
	if g.active {
		g.mu.Unlock()
		log.Warning("[OTA] rejected transfer: another is in progress")
		return ErrBusy
	}
	g.active = true
	g.mu.Unlock()

	log.Info("[OTA] Start")
	g.record(Result{Outcome: Started})
	return nil
}

func (g *Gate) Complete() {
	if !g.finish() {
		log.Warning("[OTA] completion reported without a transfer")
		return
	}
	log.Info("[OTA] End")
	g.record(Result{Outcome: Completed})
}

// Records a failed transfer. The gateway keeps running.
func (g *Gate) Fail(code int) {
	if !g.finish() {
		log.Warningf("[OTA] failure %d reported without a transfer", code)
		return
	}
	log.Errorf("[OTA] Error[%d]", code)
	g.record(Result{Outcome: Failed, Code: code})
}

func (g *Gate) finish() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	was := g.active
	g.active = false
	return was
}

func (g *Gate) record(r Result) {
	r.At = g.now()

	g.mu.Lock()
	g.last = r
	g.mu.Unlock()

	if g.OnResult != nil {
		g.OnResult(r)
	}
}

// The most recent result, if there has been one.
func (g *Gate) Last() (Result, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.last, g.last.Outcome != 0
}
