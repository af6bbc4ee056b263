// Package policy resolves the ordered approver chain for a new request.
package policy

import (
	"context"
	"fmt"

	"signoff/internal/config"
	"signoff/internal/domain"
	"signoff/internal/identity"
)

// ChainPolicy maps a request type and requester to an ordered approver list.
type ChainPolicy interface {
	ResolveChain(ctx context.Context, t domain.RequestType, requester domain.Identity) ([]domain.Approver, error)
}

// Func adapts a plain function to ChainPolicy.
type Func func(ctx context.Context, t domain.RequestType, requester domain.Identity) ([]domain.Approver, error)

func (f Func) ResolveChain(ctx context.Context, t domain.RequestType, requester domain.Identity) ([]domain.Approver, error) {
	return f(ctx, t, requester)
}

// Static returns the same approvers for every request.
func Static(approvers ...domain.Approver) ChainPolicy {
	return Func(func(context.Context, domain.RequestType, domain.Identity) ([]domain.Approver, error) {
		out := make([]domain.Approver, len(approvers))
		copy(out, approvers)
		return out, nil
	})
}

// Directory resolves configured stage references ("manager",
// "department_head", "role:<role>", "person:<id>") against the directory.
type Directory struct {
	Default   []string
	Types     map[domain.RequestType][]string
	Directory *identity.Directory
}

func FromConfig(cfg *config.Config, dir *identity.Directory) *Directory {
	types := make(map[domain.RequestType][]string, len(cfg.Chains.Types))
	for t, stages := range cfg.Chains.Types {
		types[domain.RequestType(t)] = stages
	}
	return &Directory{Default: cfg.Chains.Default, Types: types, Directory: dir}
}

func (p *Directory) ResolveChain(_ context.Context, t domain.RequestType, requester domain.Identity) ([]domain.Approver, error) {
	stages, ok := p.Types[t]
	if !ok {
		stages = p.Default
	}
	if len(stages) == 0 {
		return nil, chainError(fmt.Sprintf("no approval chain configured for %s", t))
	}
	// Directory data wins over whatever the caller carried for the requester.
	if full, ok := p.Directory.Lookup(requester.ID); ok {
		requester = full
	}
	var out []domain.Approver
	for _, stage := range stages {
		who, err := p.resolveStage(stage, requester)
		if err != nil {
			return nil, err
		}
		if who.ID == requester.ID {
			continue
		}
		if n := len(out); n > 0 && out[n-1].ID == who.ID {
			continue
		}
		out = append(out, identity.Approver(who))
	}
	if len(out) == 0 {
		return nil, chainError(fmt.Sprintf("chain for %s resolves to no approver other than the requester", t))
	}
	return out, nil
}

func (p *Directory) resolveStage(stage string, requester domain.Identity) (domain.Identity, error) {
	kind, arg := config.SplitStage(stage)
	var (
		who domain.Identity
		ok  bool
	)
	switch kind {
	case "manager":
		who, ok = p.Directory.Manager(requester)
	case "department_head":
		who, ok = p.Directory.DepartmentHead(requester.DepartmentID)
	case "role":
		who, ok = p.Directory.FirstWithRole(arg, requester.DepartmentID, requester.ID)
		if !ok {
			// the requester may be the only holder; the caller skips them
			who, ok = p.Directory.FirstWithRole(arg, requester.DepartmentID, "")
		}
	case "person":
		who, ok = p.Directory.Lookup(arg)
	default:
		return who, chainError(fmt.Sprintf("unknown chain stage %q", stage))
	}
	if !ok {
		return who, chainError(fmt.Sprintf("stage %q cannot be resolved for requester %s", stage, requester.ID))
	}
	return who, nil
}

func chainError(reason string) error {
	var verr domain.ValidationError
	verr.Add("type", reason)
	return verr
}
