// Package hostapd runs the wireless interface as an access point by
// supervising a hostapd process and following its output.
package hostapd // import "go.jonnrb.io/apgw/driver/hostapd"

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/kballard/go-shellquote"
	"go.jonnrb.io/apgw/driver/driverutil"
	"go.jonnrb.io/apgw/gateway"
	"go.jonnrb.io/apgw/link"
	"go.jonnrb.io/apgw/log"
	"go.jonnrb.io/apgw/netcfg"
)

var l = log.Tagged(netcfg.WirelessAP.Tag())

const (
	DefaultCommand  = "hostapd"
	DefaultConfPath = "/run/apgw/hostapd.conf"
)

type Driver struct {
	Events link.Notifier

	// Shell-quoted command used to run hostapd. The config path is appended.
	// Defaults to DefaultCommand.
	Command string

	// Defaults to DefaultConfPath.
	ConfPath string

	mu   sync.Mutex
	link string
	cmd  *exec.Cmd
}

var _ gateway.APDriver = (*Driver)(nil)

func New(events link.Notifier) *Driver {
	return &Driver{Events: events}
}

func (d *Driver) Configure(ctx context.Context, cfg netcfg.InterfaceConfig) error {
	if cfg.Role != netcfg.WirelessAP {
		return fmt.Errorf("hostapd: can't drive a %v interface", cfg.Role)
	}
	steps := &driverutil.Steps{Steps: []driverutil.Step{
		&driverutil.IP{Link: cfg.Link, Addr: cfg.Addr},
		&driverutil.Up{Link: cfg.Link},
	}}
	if err := steps.Start(); err != nil {
		return fmt.Errorf("hostapd: %w", err)
	}

	d.mu.Lock()
	d.link = cfg.Link
	d.mu.Unlock()
	return nil
}

func (d *Driver) command(confPath string) ([]string, error) {
	c := d.Command
	if c == "" {
		c = DefaultCommand
	}
	args, err := shellquote.Split(c)
	if err != nil {
		return nil, fmt.Errorf("hostapd: bad command %q: %w", c, err)
	}
	if len(args) == 0 {
		return nil, errors.New("hostapd: empty command")
	}
	return append(args, confPath), nil
}

// Writes the hostapd config and starts hostapd. The process runs until ctx is
// done; Started is reported once hostapd says the AP is enabled.
func (d *Driver) Start(ctx context.Context, p gateway.APParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.link == "" {
		return errors.New("hostapd: not configured")
	}
	if d.cmd != nil {
		return errors.New("hostapd: already started")
	}

	conf, err := Conf(d.link, p)
	if err != nil {
		return err
	}
	confPath := d.ConfPath
	if confPath == "" {
		confPath = DefaultConfPath
	}
	if err := os.MkdirAll(filepath.Dir(confPath), 0755); err != nil {
		return fmt.Errorf("hostapd: %w", err)
	}
	// Holds the passphrase.
	if err := os.WriteFile(confPath, conf, 0600); err != nil {
		return fmt.Errorf("hostapd: could not write config: %w", err)
	}

	args, err := d.command(confPath)
	if err != nil {
		return err
	}
	log.V(2).Infof("[AP] running %s", shellquote.Join(args...))

	pr, pw := io.Pipe()
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("hostapd: could not start %q: %w", args[0], err)
	}
	d.cmd = cmd

	go d.follow(pr)
	go func() {
		err := cmd.Wait()
		pw.Close()
		if ctx.Err() == nil {
			l.Errorf("hostapd exited: %v", err)
			d.Events.Notify(link.Down{Iface: netcfg.WirelessAP})
		}
		d.mu.Lock()
		d.cmd = nil
		d.mu.Unlock()
	}()
	return nil
}

func (d *Driver) follow(r io.Reader) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := s.Text()
		log.V(3).Infof("[AP] hostapd: %s", line)
		if ev, ok := parseLine(line); ok {
			d.Events.Notify(ev)
		}
	}
	if err := s.Err(); err != nil {
		l.Warningf("reading hostapd output: %v", err)
	}
}

func (d *Driver) SetHostname(ctx context.Context, hostname string) error {
	return driverutil.SetHostname(hostname)
}
