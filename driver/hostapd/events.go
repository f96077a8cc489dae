package hostapd

import (
	"net"
	"strings"

	"go.jonnrb.io/apgw/link"
	"go.jonnrb.io/apgw/netcfg"
)

// Translates one line of hostapd output into an event. Lines look like
// "wlan0: AP-STA-CONNECTED 02:00:00:00:00:01".
func parseLine(line string) (link.Event, bool) {
	fs := strings.Fields(line)
	for i, f := range fs {
		if !strings.HasPrefix(f, "AP-") {
			continue
		}
		switch f {
		case "AP-ENABLED":
			return link.Started{Iface: netcfg.WirelessAP}, true
		case "AP-DISABLED":
			return link.Down{Iface: netcfg.WirelessAP}, true
		case "AP-STA-CONNECTED", "AP-STA-DISCONNECTED":
			if i+1 >= len(fs) {
				return nil, false
			}
			mac, err := net.ParseMAC(fs[i+1])
			if err != nil {
				return nil, false
			}
			if f == "AP-STA-CONNECTED" {
				return link.PeerJoined{Iface: netcfg.WirelessAP, MAC: mac}, true
			}
			return link.PeerLeft{Iface: netcfg.WirelessAP, MAC: mac}, true
		}
		return nil, false
	}
	return nil, false
}
