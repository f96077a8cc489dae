// Package config reads the gateway's startup parameters from an optional
// YAML (or JSON) file and command-line flags. Flags win.
package config // import "go.jonnrb.io/apgw/config"

import (
	"flag"
	"fmt"
	"net"
	"os"

	"go.jonnrb.io/apgw/gateway"
	"go.jonnrb.io/apgw/netcfg"
	"sigs.k8s.io/yaml"
)

type Wired struct {
	Link string `json:"link"`

	// CIDR ("192.168.1.50/24"), or a bare address with Netmask set.
	Address string `json:"address"`
	Netmask string `json:"netmask,omitempty"`

	Gateway string `json:"gateway,omitempty"`
	DNS     string `json:"dns,omitempty"`
}

type AP struct {
	Link    string `json:"link"`
	Address string `json:"address"`
	Netmask string `json:"netmask,omitempty"`

	DHCPStart string `json:"dhcpStart,omitempty"`
	DHCPEnd   string `json:"dhcpEnd,omitempty"`

	SSID       string `json:"ssid"`
	Passphrase string `json:"passphrase,omitempty"`
	Channel    int    `json:"channel"`
	Hidden     bool   `json:"hidden,omitempty"`
	MaxPeers   int    `json:"maxPeers,omitempty"`
}

type Update struct {
	Passphrase string `json:"passphrase,omitempty"`
	ImagePath  string `json:"imagePath"`
	MaxBytes   int64  `json:"maxBytes,omitempty"`
}

type Params struct {
	Hostname string `json:"hostname"`
	Wired    Wired  `json:"wired"`
	AP       AP     `json:"ap"`
	Update   Update `json:"update"`
}

func Defaults() Params {
	return Params{
		Hostname: "apgw",
		Wired:    Wired{Link: "eth0"},
		AP: AP{
			Link:     "wlan0",
			Address:  "192.168.4.1/24",
			SSID:     "apgw",
			Channel:  1,
			MaxPeers: 4,
		},
		Update: Update{
			ImagePath: "/var/lib/apgw/firmware.bin",
			MaxBytes:  16 << 20,
		},
	}
}

// Binds flags for every parameter to p's fields.
func (p *Params) Bind(fs *flag.FlagSet) {
	fs.StringVar(&p.Hostname, "hostname", p.Hostname, "Hostname of the gateway, also answered as <hostname>.local on the wired link")

	fs.StringVar(&p.Wired.Link, "eth.link", p.Wired.Link, "Wired uplink interface")
	fs.StringVar(&p.Wired.Address, "eth.addr", p.Wired.Address, "Static address of the wired link (CIDR, or with -eth.netmask)")
	fs.StringVar(&p.Wired.Netmask, "eth.netmask", p.Wired.Netmask, "Subnet mask of the wired link if -eth.addr isn't CIDR")
	fs.StringVar(&p.Wired.Gateway, "eth.gateway", p.Wired.Gateway, "Default gateway on the wired link")
	fs.StringVar(&p.Wired.DNS, "eth.dns", p.Wired.DNS, "DNS server for the wired link")

	fs.StringVar(&p.AP.Link, "ap.link", p.AP.Link, "Wireless interface run as the access point")
	fs.StringVar(&p.AP.Address, "ap.addr", p.AP.Address, "Address of the AP interface (CIDR, or with -ap.netmask)")
	fs.StringVar(&p.AP.Netmask, "ap.netmask", p.AP.Netmask, "Subnet mask of the AP if -ap.addr isn't CIDR")
	fs.StringVar(&p.AP.DHCPStart, "ap.dhcp_start", p.AP.DHCPStart, "First address leased to AP clients (informational)")
	fs.StringVar(&p.AP.DHCPEnd, "ap.dhcp_end", p.AP.DHCPEnd, "Last address leased to AP clients (informational)")
	fs.StringVar(&p.AP.SSID, "ap.ssid", p.AP.SSID, "SSID of the access point")
	fs.StringVar(&p.AP.Passphrase, "ap.passphrase", p.AP.Passphrase, "WPA2 passphrase of the access point (empty for open)")
	fs.IntVar(&p.AP.Channel, "ap.channel", p.AP.Channel, "Radio channel of the access point")
	fs.BoolVar(&p.AP.Hidden, "ap.hidden", p.AP.Hidden, "Hide the SSID")
	fs.IntVar(&p.AP.MaxPeers, "ap.max_peers", p.AP.MaxPeers, "Maximum associated clients (0 for the radio's limit)")

	fs.StringVar(&p.Update.Passphrase, "update.passphrase", p.Update.Passphrase, "Passphrase required to push a firmware image")
	fs.StringVar(&p.Update.ImagePath, "update.image", p.Update.ImagePath, "Where received firmware images are written")
	fs.Int64Var(&p.Update.MaxBytes, "update.max_bytes", p.Update.MaxBytes, "Largest accepted firmware image")
}

// Reads the file at path over p.
func (p *Params) Load(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.UnmarshalStrict(b, p); err != nil {
		return fmt.Errorf("config: error parsing %q: %w", path, err)
	}
	return nil
}

// Resolves the parameters: defaults, then the file at path (if any), then
// every flag explicitly set on fs.
func Resolve(fs *flag.FlagSet, path string) (Params, error) {
	p := Defaults()
	if path != "" {
		if err := p.Load(path); err != nil {
			return Params{}, err
		}
	}

	bound := flag.NewFlagSet("", flag.ContinueOnError)
	p.Bind(bound)

	var err error
	fs.Visit(func(f *flag.Flag) {
		bf := bound.Lookup(f.Name)
		if bf == nil || err != nil {
			return
		}
		if e := bf.Value.Set(f.Value.String()); e != nil {
			err = fmt.Errorf("config: bad -%s: %w", f.Name, e)
		}
	})
	return p, err
}

func parseAddr(addr, mask string) (netcfg.Addr, error) {
	if mask != "" {
		return netcfg.AddrFromMask(addr, mask)
	}
	return netcfg.ParseAddr(addr)
}

func parseOptionalIP(what, s string) (net.IP, error) {
	if s == "" {
		return nil, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("config: invalid %s %q", what, s)
	}
	return ip, nil
}

// Builds the gateway configuration, checking it the way the gateway will.
func (p Params) Gateway() (gateway.Config, error) {
	var (
		cfg gateway.Config
		err error
	)

	w := &cfg.Wired
	w.Role, w.Link, w.Hostname = netcfg.Wired, p.Wired.Link, p.Hostname
	if p.Wired.Address == "" {
		return cfg, fmt.Errorf("config: the wired address is required")
	}
	if w.Addr, err = parseAddr(p.Wired.Address, p.Wired.Netmask); err != nil {
		return cfg, fmt.Errorf("config: wired: %w", err)
	}
	if w.Gateway, err = parseOptionalIP("wired gateway", p.Wired.Gateway); err != nil {
		return cfg, err
	}
	if w.DNS, err = parseOptionalIP("wired DNS server", p.Wired.DNS); err != nil {
		return cfg, err
	}

	a := &cfg.AP
	a.Role, a.Link, a.Hostname = netcfg.WirelessAP, p.AP.Link, p.Hostname
	if a.Addr, err = parseAddr(p.AP.Address, p.AP.Netmask); err != nil {
		return cfg, fmt.Errorf("config: ap: %w", err)
	}

	r := &cfg.Radio
	r.SSID, r.Passphrase = p.AP.SSID, p.AP.Passphrase
	r.Channel, r.Hidden, r.MaxPeers = p.AP.Channel, p.AP.Hidden, p.AP.MaxPeers
	if r.DHCPStart, err = parseOptionalIP("DHCP range start", p.AP.DHCPStart); err != nil {
		return cfg, err
	}
	if r.DHCPEnd, err = parseOptionalIP("DHCP range end", p.AP.DHCPEnd); err != nil {
		return cfg, err
	}
	for _, ip := range []net.IP{r.DHCPStart, r.DHCPEnd} {
		if ip != nil && !a.Addr.Net().Contains(ip) {
			return cfg, fmt.Errorf("config: DHCP range address %v outside AP subnet %v", ip, a.Addr.Net())
		}
	}

	if err := netcfg.CheckPair(cfg.Wired, cfg.AP); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
