package stage

import (
	"fmt"
	"strings"
)

// Health summarizes the readiness of a workflow stage.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// CapabilityLister reports the providers bound to a capability.
type CapabilityLister interface {
	Providers(capability string) []string
}

// Check reports, per stage, whether every declared capability has at least
// one provider bound.
func (r *Registry) Check(lister CapabilityLister) []Health {
	var out []Health
	for _, name := range r.Names() {
		d := r.descriptors[name]
		var missing []string
		for _, c := range d.Capabilities {
			if len(lister.Providers(c)) == 0 {
				missing = append(missing, c)
			}
		}
		if len(missing) > 0 {
			out = append(out, Unhealthy(string(name), fmt.Sprintf("no providers for %s", strings.Join(missing, ", "))))
			continue
		}
		out = append(out, Healthy(string(name)))
	}
	return out
}
