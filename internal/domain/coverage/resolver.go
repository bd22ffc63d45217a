package coverage

import (
	"strings"
	"time"

	"github.com/medibill/medibill/pkg/dateutil"
)

// Resolve picks the rule governing a service within one network tier. The
// first match wins: exact service type, then the claim's category when one
// is given, then the GENERAL category. Rules of other tiers never match.
func Resolve(rules []*Rule, serviceType string, category Category, tier Network) (*Rule, bool) {
	serviceType = strings.TrimSpace(serviceType)

	if serviceType != "" {
		if r := firstRule(rules, tier, func(r *Rule) bool {
			return strings.TrimSpace(r.ServiceType) == serviceType
		}); r != nil {
			return r, true
		}
	}
	if category != "" {
		if r := firstRule(rules, tier, func(r *Rule) bool { return r.Category == category }); r != nil {
			return r, true
		}
	}
	if r := firstRule(rules, tier, func(r *Rule) bool { return r.Category == CategoryGeneral }); r != nil {
		return r, true
	}
	return nil, false
}

func firstRule(rules []*Rule, tier Network, match func(*Rule) bool) *Rule {
	for _, r := range rules {
		if r.Network == tier && match(r) {
			return r
		}
	}
	return nil
}

// NetworkStatus returns the tier of the provider's contract in force on the
// given day. Providers without such a contract are out of network.
func NetworkStatus(contracts []*NetworkContract, providerID string, on time.Time) Network {
	providerID = strings.TrimSpace(providerID)
	for _, c := range contracts {
		if strings.TrimSpace(c.ProviderID) != providerID {
			continue
		}
		if dateutil.Within(on, &c.ContractStart, c.ContractEnd) {
			if c.Status == InNetwork {
				return InNetwork
			}
			return OutNetwork
		}
	}
	return OutNetwork
}
