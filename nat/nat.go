// Package nat masquerades traffic from the AP subnet out through the wired
// link using netfilter, driven through the iptables binary.
package nat // import "go.jonnrb.io/apgw/nat"

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"

	"go.jonnrb.io/apgw/log"
	"go.jonnrb.io/apgw/nat/rules"
	"go.jonnrb.io/apgw/netcfg"
)

var (
	iptablesBin    = flag.String("iptables.bin", "/sbin/iptables", "Path to iptables binary")
	forwardingPath = flag.String("nat.ip_forward", "/proc/sys/net/ipv4/ip_forward", "Sysctl file enabling IPv4 forwarding")
)

// Runs iptables with args.
type Runner interface {
	Run(ctx context.Context, args ...string) error
}

type execRunner string

func (bin execRunner) Run(ctx context.Context, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, string(bin), args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

type Translator struct {
	// Defaults to running the -iptables.bin binary.
	Runner Runner

	// Defaults to -nat.ip_forward. Empty with a non-nil Runner skips
	// enabling forwarding.
	ForwardingPath string
}

// A Translator using the flag-configured iptables binary and sysctl.
func New() *Translator {
	return &Translator{
		Runner:         execRunner(*iptablesBin),
		ForwardingPath: *forwardingPath,
	}
}

func (t *Translator) runner() Runner {
	if t.Runner == nil {
		return execRunner(*iptablesBin)
	}
	return t.Runner
}

// Checks that iptables can be run and the kernel has a nat table.
func (t *Translator) Available(ctx context.Context) error {
	if t.Runner == nil {
		if _, err := exec.LookPath(*iptablesBin); err != nil {
			return fmt.Errorf("nat: iptables not found: %w", err)
		}
	}
	if err := t.runner().Run(ctx, "-t", "nat", "-S", "POSTROUTING"); err != nil {
		return fmt.Errorf("nat: nat table unusable: %w", err)
	}
	return nil
}

// The rules masquerading inside's subnet as it leaves through outside.
// Connections from outside into inside's subnet are not forwarded.
func RuleSet(inside, outside netcfg.InterfaceConfig) rules.RuleSet {
	return rules.NewBuilder().
		Apply(rules.BaseRules).
		Add(50, rules.RuleSet{
			forward(inside, outside),
			masquerade(inside, outside),
		}).
		Add(999, rules.RuleSet{
			drop(outside, inside),
		}).
		Build()
}

func forward(in, out netcfg.InterfaceConfig) rules.Rule {
	return rules.Rule(fmt.Sprintf(
		"-t filter -A %s -j ACCEPT -s %v -i %s -o %s",
		rules.ForwardChain, in.Addr.Net(), in.Link, out.Link))
}

func masquerade(in, out netcfg.InterfaceConfig) rules.Rule {
	return rules.Rule(fmt.Sprintf(
		"-t nat -A %s -j MASQUERADE -s %v -o %s",
		rules.PostroutingChain, in.Addr.Net(), out.Link))
}

func drop(in, out netcfg.InterfaceConfig) rules.Rule {
	return rules.Rule(fmt.Sprintf(
		"-t filter -A %s -j DROP -i %s -o %s",
		rules.ForwardChain, in.Link, out.Link))
}

// Turns on forwarding and installs RuleSet(inside, outside). Safe to call
// again after a restart: existing chains are flushed and jumps aren't
// duplicated.
func (t *Translator) Enable(ctx context.Context, inside, outside netcfg.InterfaceConfig) error {
	if err := t.enableForwarding(); err != nil {
		return err
	}
	if err := t.apply(ctx, RuleSet(inside, outside)); err != nil {
		return err
	}
	log.Infof("nat: masquerading %v from %s out %s", inside.Addr.Net(), inside.Link, outside.Link)
	return nil
}

func (t *Translator) enableForwarding() error {
	p := t.ForwardingPath
	if p == "" {
		if t.Runner != nil {
			return nil
		}
		p = *forwardingPath
	}
	if err := os.WriteFile(p, []byte("1\n"), 0644); err != nil {
		return fmt.Errorf("nat: error enabling forwarding: %w", err)
	}
	return nil
}

func (t *Translator) apply(ctx context.Context, rs rules.RuleSet) error {
	r := t.runner()
	for _, rule := range rs {
		log.V(3).Infof("Applying rule %q", rule)
		if err := t.applyOne(ctx, r, rule); err != nil {
			return fmt.Errorf("nat: error applying rule %q: %w", rule, err)
		}
	}
	return nil
}

func (t *Translator) applyOne(ctx context.Context, r Runner, rule rules.Rule) error {
	run := func(rule rules.Rule) error {
		args, err := rule.Fields()
		if err != nil {
			return err
		}
		return r.Run(ctx, args...)
	}

	switch rule.Op() {
	case "-N":
		// The chain is left over from a previous run; empty it instead.
		if err := run(rule); err != nil {
			flush, _ := rule.WithOp("-F")
			if ferr := run(flush); ferr != nil {
				return errors.Join(err, ferr)
			}
		}
		return nil
	case "-I":
		if check, ok := rule.WithOp("-C"); ok && run(check) == nil {
			return nil
		}
	}
	return run(rule)
}
