package backends

import (
	"fmt"

	"github.com/theblitlabs/parity-server/internal/agentchannel"
	"github.com/theblitlabs/parity-server/internal/core/models"
	"github.com/theblitlabs/parity-server/internal/core/ports"
)

// Resolver maps a Runner to its ports.Backend implementation.
type Resolver struct {
	proxmox   *Proxmox
	bareMetal *BareMetal
}

func NewResolver(hub *agentchannel.Hub) *Resolver {
	return &Resolver{
		proxmox:   NewProxmox(hub),
		bareMetal: NewBareMetal(hub),
	}
}

func (r *Resolver) Resolve(runner *models.Runner) (ports.Backend, error) {
	switch runner.Backend {
	case models.BackendProxmox:
		return r.proxmox, nil
	case models.BackendBareMetal:
		return r.bareMetal, nil
	default:
		return nil, fmt.Errorf("unknown backend %q for runner %s", runner.Backend, runner.RunnerID)
	}
}
