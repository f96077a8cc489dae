package rules

// Chains owned by the gateway. Everything it installs hangs off these so the
// rest of the host's firewall is left alone.
const (
	ForwardChain     = "apgw-forward"
	PostroutingChain = "apgw-postrouting"
)

// Adds the chains and jumps the gateway's rules live in. When this is used,
// priorities [0, 10) and [990, 1000) should be assumed reserved.
func BaseRules(b RuleSetBuilder) {
	b.Add(0, chains).
		Add(1, jumps).
		Add(2, established)
}

var chains = []Rule{
	Rule("-t filter -N " + ForwardChain),
	Rule("-t nat -N " + PostroutingChain),
}

var jumps = []Rule{
	Rule("-t filter -I FORWARD -j " + ForwardChain),
	Rule("-t nat -I POSTROUTING -j " + PostroutingChain),
}

var established = []Rule{
	Rule("-t filter -A " + ForwardChain + " -j ACCEPT -m conntrack --ctstate RELATED,ESTABLISHED"),
}
