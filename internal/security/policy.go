// Package security implements the layered capability policy (spec
// §4.4) and the Approval Flow that bridges a non-interactive security
// check to an interactive resolver via a single-shot future keyed by
// request id.
package security

import "github.com/arc-run/arc/pkg/models"

// Policy lists, per capability, which of the three static lists it
// falls in. A capability absent from all three is evaluated as
// "unknown" (same handling as always_ask).
type Policy struct {
	NeverAllow []models.Capability `yaml:"never_allow" json:"never_allow"`
	AutoAllow  []models.Capability `yaml:"auto_allow" json:"auto_allow"`
	AlwaysAsk  []models.Capability `yaml:"always_ask" json:"always_ask"`
}

func (p Policy) has(list []models.Capability, cap models.Capability) bool {
	for _, c := range list {
		if c == cap {
			return true
		}
	}
	return false
}

type rememberedKey struct {
	tool string
	cap  models.Capability
}
