package rules // import "go.jonnrb.io/apgw/nat/rules"

import (
	"sort"
	"strings"

	"github.com/google/shlex"
)

// A rule, probably of the iptables variety. Only Fields and WithOp assume
// anything about the value.
type Rule string

// A set of rules to be applied in order.
type RuleSet []Rule

// Maps a set of priorities to rules at those priorities. Rules are applied
// from the lowest numbered slice (highest priority) to the highest numbered
// slice (lowest priority).
type RuleSetBuilder map[int][]Rule

func NewBuilder() RuleSetBuilder {
	return RuleSetBuilder(make(map[int][]Rule))
}

func (b RuleSetBuilder) Add(priority int, rules RuleSet) RuleSetBuilder {
	b[priority] = append(b[priority], rules...)
	return b
}

func (b RuleSetBuilder) Apply(mutate func(b RuleSetBuilder)) RuleSetBuilder {
	mutate(b)
	return b
}

func (b RuleSetBuilder) Build() RuleSet {
	var ks []int
	for k := range b {
		ks = append(ks, k)
	}
	sort.Ints(ks)

	var rs []Rule
	for _, k := range ks {
		rs = append(rs, b[k]...)
	}
	return rs
}

// Splits the rule into arguments the way a shell would.
func (r Rule) Fields() ([]string, error) {
	return shlex.Split(string(r))
}

var ops = map[string]bool{
	"-A": true, "-I": true, "-N": true, "-C": true, "-D": true, "-F": true,
}

// Returns the command flag of the rule (e.g. "-A"), or "" if there isn't one.
func (r Rule) Op() string {
	fs, err := r.Fields()
	if err != nil {
		return ""
	}
	for _, f := range fs {
		if ops[f] {
			return f
		}
	}
	return ""
}

// Returns r with its command flag replaced by op, e.g. to turn an append into
// a check. Returns false if r has no command flag. Quoting is not preserved.
func (r Rule) WithOp(op string) (Rule, bool) {
	fs, err := r.Fields()
	if err != nil {
		return r, false
	}
	for i, f := range fs {
		if ops[f] {
			fs[i] = op
			return Rule(strings.Join(fs, " ")), true
		}
	}
	return r, false
}
