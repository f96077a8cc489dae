package driverutil

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

func SetHostname(name string) error {
	if err := unix.Sethostname([]byte(name)); err != nil {
		return fmt.Errorf("driverutil: could not set hostname %q: %w", name, err)
	}
	return nil
}

// Renders a resolv.conf pointing at servers.
func ResolvConf(servers ...string) []byte {
	var b strings.Builder
	b.WriteString("# Written by apgw.\n")
	for _, s := range servers {
		if s == "" {
			continue
		}
		fmt.Fprintf(&b, "nameserver %s\n", s)
	}
	return []byte(b.String())
}

func WriteResolvConf(path string, servers ...string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, ResolvConf(servers...), 0644); err != nil {
		return fmt.Errorf("driverutil: could not write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("driverutil: could not replace %q: %w", path, err)
	}
	return nil
}
