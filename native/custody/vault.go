// Package custody is the collateral registry loans are secured by. Each asset
// is a non-fungible (collection, token id) pair with a single owner, per-asset
// approvals, operator approvals and signature based permits.
package custody

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "loanledger/core/errors"
	"loanledger/core/exec"
	"loanledger/crypto"
	"loanledger/native/consent"
)

var (
	ErrUnknownAsset     = coreerrors.New(coreerrors.ClassNotFound, "custody: unknown asset")
	ErrAssetExists      = coreerrors.New(coreerrors.ClassInvalidState, "custody: asset already minted")
	ErrNotOwner         = coreerrors.New(coreerrors.ClassCustodyUnavailable, "custody: from is not the owner")
	ErrNotApproved      = coreerrors.New(coreerrors.ClassCustodyUnavailable, "custody: caller not approved for asset")
	ErrZeroAddress      = coreerrors.New(coreerrors.ClassInvalidArgument, "custody: zero address")
	ErrMintUnauthorized = coreerrors.New(coreerrors.ClassUnauthorized, "custody: caller is not the minter")
)

// PermitTypeHash is the typed-data type of a collateral permit.
var PermitTypeHash = consent.TypeHash("Permit(address owner,address spender,address collection,uint256 tokenId,uint256 nonce,uint256 deadline)")

// AssetID identifies one collateral asset.
type AssetID struct {
	Collection crypto.Address
	TokenID    uint64
}

// IsZero reports whether the identifier is unset.
func (a AssetID) IsZero() bool { return a.Collection.IsZero() && a.TokenID == 0 }

func (a AssetID) String() string {
	return fmt.Sprintf("%s/%d", a.Collection, a.TokenID)
}

// Key returns the canonical state key fragment for the asset.
func (a AssetID) Key() string {
	return fmt.Sprintf("%s/%d", a.Collection.Hex(), a.TokenID)
}

// Custody is the collateral interface consumed by the ledger and gateways.
// The caller of ctx is the acting account.
type Custody interface {
	Address() crypto.Address
	OwnerOf(ctx *exec.Context, asset AssetID) (crypto.Address, error)
	TransferFrom(ctx *exec.Context, from, to crypto.Address, asset AssetID) error
	Approve(ctx *exec.Context, spender crypto.Address, asset AssetID) error
	Permit(ctx *exec.Context, permit Permit) error
}

// Permit is an owner-signed approval of spender over one asset.
type Permit struct {
	Owner     crypto.Address
	Spender   crypto.Address
	Asset     AssetID
	Signature consent.Signature
}

type permitPayload struct {
	owner   crypto.Address
	spender crypto.Address
	asset   AssetID
}

func (p permitPayload) StructHash(nonce uint64, deadline int64) (common.Hash, error) {
	enc := consent.NewStruct(PermitTypeHash)
	enc.Address(p.owner)
	enc.Address(p.spender)
	enc.Address(p.asset.Collection)
	enc.Uint64(p.asset.TokenID)
	enc.Uint64(nonce)
	enc.Int64(deadline)
	return enc.Hash()
}

// PermitHash returns the struct hash an owner signs to approve spender.
func PermitHash(owner, spender crypto.Address, asset AssetID, nonce uint64, deadline int64) (common.Hash, error) {
	return permitPayload{owner: owner, spender: spender, asset: asset}.StructHash(nonce, deadline)
}

// Config describes a vault deployment.
type Config struct {
	Address crypto.Address
	Minter  crypto.Address
	ChainID uint64
}

// Vault is the reference collateral registry.
type Vault struct {
	addr      crypto.Address
	minter    crypto.Address
	domain    consent.Domain
	validator *consent.Validator
}

// NewVault returns a vault. Permits are verified under the domain
// {"CollateralVault", "1", chainID, addr}.
func NewVault(cfg Config) (*Vault, error) {
	if cfg.Address.IsZero() {
		return nil, fmt.Errorf("%w: vault address", ErrZeroAddress)
	}
	domain := consent.Domain{Name: "CollateralVault", Version: "1", ChainID: cfg.ChainID, VerifyingContract: cfg.Address}
	if err := domain.Validate(); err != nil {
		return nil, err
	}
	return &Vault{
		addr:      cfg.Address,
		minter:    cfg.Minter,
		domain:    domain,
		validator: consent.NewValidator(cfg.Address),
	}, nil
}

func (v *Vault) Address() crypto.Address { return v.addr }

// Domain returns the permit signing domain.
func (v *Vault) Domain() consent.Domain { return v.domain }

// Nonce returns the next permit nonce for owner.
func (v *Vault) Nonce(ctx *exec.Context, owner crypto.Address) (uint64, error) {
	return v.validator.Nonce(ctx, owner)
}

func (v *Vault) ownerKey(asset AssetID) []byte {
	return []byte("custody/" + v.addr.Hex() + "/owner/" + asset.Key())
}

func (v *Vault) approvalKey(asset AssetID) []byte {
	return []byte("custody/" + v.addr.Hex() + "/approval/" + asset.Key())
}

func (v *Vault) operatorKey(owner, operator crypto.Address) []byte {
	return []byte("custody/" + v.addr.Hex() + "/operator/" + owner.Hex() + "/" + operator.Hex())
}

// Mint registers a new asset owned by to. Only the minter may mint.
func (v *Vault) Mint(ctx *exec.Context, to crypto.Address, asset AssetID) error {
	if v.minter.IsZero() || ctx.Caller() != v.minter {
		return ErrMintUnauthorized
	}
	if to.IsZero() {
		return fmt.Errorf("%w: recipient", ErrZeroAddress)
	}
	exists, err := ctx.State().KVGet(v.ownerKey(asset), nil)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAssetExists, asset)
	}
	if err := ctx.State().KVPut(v.ownerKey(asset), to); err != nil {
		return err
	}
	ctx.Emit(Transferred{Vault: v.addr, To: to, Asset: asset})
	return nil
}

// OwnerOf returns the current owner of asset.
func (v *Vault) OwnerOf(ctx *exec.Context, asset AssetID) (crypto.Address, error) {
	var owner crypto.Address
	ok, err := ctx.State().KVGet(v.ownerKey(asset), &owner)
	if err != nil {
		return crypto.Address{}, err
	}
	if !ok {
		return crypto.Address{}, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return owner, nil
}

// GetApproved returns the single-asset approval, or the zero address.
func (v *Vault) GetApproved(ctx *exec.Context, asset AssetID) (crypto.Address, error) {
	var approved crypto.Address
	if _, err := ctx.State().KVGet(v.approvalKey(asset), &approved); err != nil {
		return crypto.Address{}, err
	}
	return approved, nil
}

// IsApprovedForAll reports whether operator may move every asset of owner.
func (v *Vault) IsApprovedForAll(ctx *exec.Context, owner, operator crypto.Address) (bool, error) {
	var approved bool
	ok, err := ctx.State().KVGet(v.operatorKey(owner, operator), &approved)
	if err != nil {
		return false, err
	}
	return ok && approved, nil
}

// Approve lets spender move asset once. The caller must own the asset or be
// an operator of the owner.
func (v *Vault) Approve(ctx *exec.Context, spender crypto.Address, asset AssetID) error {
	owner, err := v.OwnerOf(ctx, asset)
	if err != nil {
		return err
	}
	caller := ctx.Caller()
	if caller != owner {
		operator, err := v.IsApprovedForAll(ctx, owner, caller)
		if err != nil {
			return err
		}
		if !operator {
			return fmt.Errorf("%w: %s cannot approve %s", ErrNotApproved, caller, asset)
		}
	}
	return v.setApproval(ctx, owner, spender, asset)
}

func (v *Vault) setApproval(ctx *exec.Context, owner, spender crypto.Address, asset AssetID) error {
	if spender.IsZero() {
		if err := ctx.State().KVDelete(v.approvalKey(asset)); err != nil {
			return err
		}
	} else if err := ctx.State().KVPut(v.approvalKey(asset), spender); err != nil {
		return err
	}
	ctx.Emit(Approved{Vault: v.addr, Owner: owner, Spender: spender, Asset: asset})
	return nil
}

// SetApprovalForAll toggles operator rights over every asset of the caller.
func (v *Vault) SetApprovalForAll(ctx *exec.Context, operator crypto.Address, approved bool) error {
	if operator.IsZero() {
		return fmt.Errorf("%w: operator", ErrZeroAddress)
	}
	key := v.operatorKey(ctx.Caller(), operator)
	if !approved {
		return ctx.State().KVDelete(key)
	}
	return ctx.State().KVPut(key, true)
}

// Permit applies an owner-signed approval. Anyone, including the owner, may
// submit it; the owner's permit nonce is consumed.
func (v *Vault) Permit(ctx *exec.Context, permit Permit) error {
	owner, err := v.OwnerOf(ctx, permit.Asset)
	if err != nil {
		return err
	}
	if owner != permit.Owner {
		return fmt.Errorf("%w: %s does not own %s", ErrNotOwner, permit.Owner, permit.Asset)
	}
	sig := permit.Signature
	sig.Signer = permit.Owner
	_, err = v.validator.Verify(ctx, consent.Request{
		Caller:    v.addr,
		Expected:  []crypto.Address{permit.Owner},
		Payload:   permitPayload{owner: permit.Owner, spender: permit.Spender, asset: permit.Asset},
		Domain:    v.domain,
		Signature: sig,
	})
	if err != nil {
		return err
	}
	return v.setApproval(ctx, owner, permit.Spender, permit.Asset)
}

// TransferFrom moves asset from from to to. The caller must be the owner, the
// approved spender of the asset or an operator of the owner.
func (v *Vault) TransferFrom(ctx *exec.Context, from, to crypto.Address, asset AssetID) error {
	if to.IsZero() {
		return fmt.Errorf("%w: recipient", ErrZeroAddress)
	}
	owner, err := v.OwnerOf(ctx, asset)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("%w: %s does not own %s", ErrNotOwner, from, asset)
	}
	caller := ctx.Caller()
	if caller != owner {
		approved, err := v.GetApproved(ctx, asset)
		if err != nil {
			return err
		}
		if approved != caller {
			operator, err := v.IsApprovedForAll(ctx, owner, caller)
			if err != nil {
				return err
			}
			if !operator {
				return fmt.Errorf("%w: %s cannot move %s", ErrNotApproved, caller, asset)
			}
		}
	}
	if err := ctx.State().KVDelete(v.approvalKey(asset)); err != nil {
		return err
	}
	if err := ctx.State().KVPut(v.ownerKey(asset), to); err != nil {
		return err
	}
	ctx.Emit(Transferred{Vault: v.addr, From: from, To: to, Asset: asset})
	return nil
}
