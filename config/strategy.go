package config

import (
	"fmt"
	"strings"
)

// CheckoutMethod names how a deployment reference is resolved.
type CheckoutMethod string

const (
	// DeployBranch deploys the tip of a fixed branch.
	DeployBranch CheckoutMethod = "deploy_branch"
	// DeployRev deploys a fixed revision.
	DeployRev CheckoutMethod = "deploy_rev"
	// DeployTag deploys the most recent tag matching "<name>-*".
	DeployTag CheckoutMethod = "deploy_tag"
)

// CheckoutStrategy is a parsed "<method>:<name>" checkout_strategy value.
type CheckoutStrategy struct {
	Method CheckoutMethod
	Name   string
}

// ParseCheckoutStrategy parses s. Unknown methods and empty names are
// configuration errors.
func ParseCheckoutStrategy(s string) (CheckoutStrategy, error) {
	method, name, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return CheckoutStrategy{}, configErrorf("checkout strategy %q is not of the form <method>:<name>", s)
	}
	cs := CheckoutStrategy{
		Method: CheckoutMethod(method),
		Name:   strings.TrimSpace(name),
	}
	switch cs.Method {
	case DeployBranch, DeployRev, DeployTag:
	default:
		return CheckoutStrategy{}, configErrorf("invalid deployment strategy %q", method)
	}
	if cs.Name == "" {
		return CheckoutStrategy{}, configErrorf("checkout strategy %q has an empty name", s)
	}
	return cs, nil
}

func (cs CheckoutStrategy) String() string {
	return fmt.Sprintf("%s:%s", cs.Method, cs.Name)
}
