// Package catalog wires the built-in provider factories into a registry.
// Registration is explicit: nothing installs itself via import side effects.
package catalog

import (
	"github.com/prospectly/server/pkg/providers"
	"github.com/prospectly/server/pkg/providers/apollo"
	"github.com/prospectly/server/pkg/providers/betterenrich"
	"github.com/prospectly/server/pkg/providers/companyenrich"
	"github.com/prospectly/server/pkg/providers/hunter"
	"github.com/prospectly/server/pkg/providers/surfe"
)

// Register installs every built-in provider factory.
func Register(r *providers.Registry) {
	r.Register(surfe.ProviderID, surfe.New)
	r.Register(apollo.ProviderID, apollo.New)
	r.Register(hunter.ProviderID, hunter.New)
	r.Register(betterenrich.ProviderID, betterenrich.New)
	r.Register(companyenrich.ProviderID, companyenrich.New)
}
