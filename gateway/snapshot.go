package gateway

import (
	"time"

	"go.jonnrb.io/apgw/iface"
)

// An immutable view of the gateway. Every event produces a new Snapshot; a
// published one is never modified.
type Snapshot struct {
	Wired    iface.Status
	Wireless iface.Status

	TranslationEnabled bool

	// Why the gateway is running with less than both interfaces, if it is.
	Degraded []string

	Started time.Time

	// Filled in when the snapshot is read.
	Uptime time.Duration
}
