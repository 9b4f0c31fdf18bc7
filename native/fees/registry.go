package fees

import (
	"fmt"
	"sort"
	"sync"

	coreerrors "loanledger/core/errors"
	"loanledger/crypto"
)

var ErrUnknownPolicy = coreerrors.New(coreerrors.ClassNotFound, "fees: unknown policy")

// Registry resolves the fee policies a ledger may switch between. It holds no
// state of its own and is rebuilt from configuration on every start.
type Registry struct {
	mu       sync.RWMutex
	policies map[crypto.Address]Reader
}

// NewRegistry returns a registry pre-populated with policies.
func NewRegistry(policies ...Reader) (*Registry, error) {
	r := &Registry{policies: make(map[crypto.Address]Reader)}
	for _, policy := range policies {
		if err := r.Register(policy); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds policy. Registering the same policy twice is a no-op.
func (r *Registry) Register(policy Reader) error {
	if policy == nil || policy.Address().IsZero() {
		return fmt.Errorf("fees: policy address required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.policies[policy.Address()]; ok {
		if existing != policy {
			return fmt.Errorf("fees: policy %s already registered", policy.Address())
		}
		return nil
	}
	r.policies[policy.Address()] = policy
	return nil
}

// Policy resolves addr.
func (r *Registry) Policy(addr crypto.Address) (Reader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	policy, ok := r.policies[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPolicy, addr)
	}
	return policy, nil
}

// Addresses returns the registered policy addresses in hex order.
func (r *Registry) Addresses() []crypto.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]crypto.Address, 0, len(r.policies))
	for addr := range r.policies {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}
