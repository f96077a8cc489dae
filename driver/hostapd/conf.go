package hostapd

import (
	"errors"
	"fmt"
	"strings"

	"go.jonnrb.io/apgw/gateway"
)

// Renders a hostapd.conf serving p on linkName.
func Conf(linkName string, p gateway.APParams) ([]byte, error) {
	switch {
	case linkName == "":
		return nil, errors.New("hostapd: no link")
	case len(p.SSID) == 0 || len(p.SSID) > 32:
		return nil, fmt.Errorf("hostapd: SSID must be 1 to 32 bytes; got %d", len(p.SSID))
	case strings.ContainsAny(p.SSID, "\n\r"):
		return nil, errors.New("hostapd: SSID contains a newline")
	case p.Passphrase != "" && (len(p.Passphrase) < 8 || len(p.Passphrase) > 63):
		return nil, fmt.Errorf("hostapd: passphrase must be 8 to 63 characters; got %d", len(p.Passphrase))
	case strings.ContainsAny(p.Passphrase, "\n\r"):
		return nil, errors.New("hostapd: passphrase contains a newline")
	case p.MaxPeers < 0:
		return nil, fmt.Errorf("hostapd: invalid max peers %d", p.MaxPeers)
	}

	var mode string
	switch {
	case p.Channel >= 1 && p.Channel <= 14:
		mode = "g"
	case p.Channel >= 32 && p.Channel <= 177:
		mode = "a"
	default:
		return nil, fmt.Errorf("hostapd: invalid channel %d", p.Channel)
	}

	var b strings.Builder
	w := func(k string, v interface{}) { fmt.Fprintf(&b, "%s=%v\n", k, v) }

	w("interface", linkName)
	w("driver", "nl80211")
	w("ssid", p.SSID)
	w("hw_mode", mode)
	w("channel", p.Channel)
	if p.Hidden {
		w("ignore_broadcast_ssid", 1)
	} else {
		w("ignore_broadcast_ssid", 0)
	}
	if p.MaxPeers > 0 {
		w("max_num_sta", p.MaxPeers)
	}
	if p.Passphrase != "" {
		w("wpa", 2)
		w("wpa_key_mgmt", "WPA-PSK")
		w("rsn_pairwise", "CCMP")
		w("wpa_passphrase", p.Passphrase)
	}
	return []byte(b.String()), nil
}
