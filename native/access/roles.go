package access

import (
	"loanledger/core/exec"
	"loanledger/crypto"
)

// Roles stores role membership for one deployment. Keys are namespaced by the
// deployment address so several ledgers can share one state.
type Roles struct {
	namespace crypto.Address
}

// NewRoles creates a role store namespaced by addr.
func NewRoles(namespace crypto.Address) *Roles {
	return &Roles{namespace: namespace}
}

func (r *Roles) memberKey(role Role, member crypto.Address) []byte {
	return []byte("access/" + r.namespace.Hex() + "/role/" + string(role) + "/" + member.Hex())
}

func (r *Roles) bootstrapKey() []byte {
	return []byte("access/" + r.namespace.Hex() + "/" + adminBootstrapKey)
}

func validRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleOriginator, RoleRepayer:
		return true
	default:
		return false
	}
}

// Bootstrap installs the first admin. It only succeeds once per namespace.
func (r *Roles) Bootstrap(ctx *exec.Context, admin crypto.Address) error {
	if r == nil {
		return errNilRoles
	}
	if admin.IsZero() {
		return errZeroMember
	}
	done, err := ctx.State().KVGet(r.bootstrapKey(), nil)
	if err != nil {
		return err
	}
	if done {
		return ErrAdminExists
	}
	if err := ctx.State().KVPut(r.bootstrapKey(), true); err != nil {
		return err
	}
	return ctx.State().KVPut(r.memberKey(RoleAdmin, admin), true)
}

// Has reports whether member holds role.
func (r *Roles) Has(ctx *exec.Context, role Role, member crypto.Address) (bool, error) {
	if r == nil {
		return false, errNilRoles
	}
	var held bool
	ok, err := ctx.State().KVGet(r.memberKey(role, member), &held)
	if err != nil {
		return false, err
	}
	return ok && held, nil
}

// Grant adds member to role. Only admins may grant.
func (r *Roles) Grant(ctx *exec.Context, role Role, member crypto.Address) error {
	if err := r.requireAdmin(ctx, role, member); err != nil {
		return err
	}
	return ctx.State().KVPut(r.memberKey(role, member), true)
}

// Revoke removes member from role. Only admins may revoke.
func (r *Roles) Revoke(ctx *exec.Context, role Role, member crypto.Address) error {
	if err := r.requireAdmin(ctx, role, member); err != nil {
		return err
	}
	return ctx.State().KVDelete(r.memberKey(role, member))
}

func (r *Roles) requireAdmin(ctx *exec.Context, role Role, member crypto.Address) error {
	if r == nil {
		return errNilRoles
	}
	if !validRole(role) {
		return ErrUnknownRole
	}
	if member.IsZero() {
		return errZeroMember
	}
	isAdmin, err := r.Has(ctx, RoleAdmin, ctx.Caller())
	if err != nil {
		return err
	}
	if !isAdmin {
		return ErrUnauthorized
	}
	return nil
}

// Require returns a predicate admitting callers that hold role.
func (r *Roles) Require(role Role) Predicate {
	return func(ctx *exec.Context) (bool, error) {
		return r.Has(ctx, role, ctx.Caller())
	}
}
