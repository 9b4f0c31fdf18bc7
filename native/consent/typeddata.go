package consent

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"loanledger/crypto"
)

// DomainTypeHash is the type hash of the EIP-712 domain struct used by every
// component that verifies signatures.
var DomainTypeHash = TypeHash("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)")

var secp256k1HalfN = new(big.Int).Rsh(ethcrypto.S256().Params().N, 1)

// Domain binds a signature to one deployment: the verifying component, a
// human-readable name, a version and the chain identifier.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract crypto.Address
}

// Separator returns the EIP-712 domain separator.
func (d Domain) Separator() common.Hash {
	enc := NewStruct(DomainTypeHash)
	enc.String(d.Name)
	enc.String(d.Version)
	enc.Uint64(d.ChainID)
	enc.Address(d.VerifyingContract)
	hash, _ := enc.Hash()
	return hash
}

// Validate reports missing domain fields.
func (d Domain) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("consent: domain name required")
	}
	if strings.TrimSpace(d.Version) == "" {
		return fmt.Errorf("consent: domain version required")
	}
	if d.ChainID == 0 {
		return fmt.Errorf("consent: domain chain id required")
	}
	if d.VerifyingContract.IsZero() {
		return fmt.Errorf("consent: verifying contract required")
	}
	return nil
}

// TypeHash hashes a canonical struct type signature.
func TypeHash(signature string) common.Hash {
	return ethcrypto.Keccak256Hash([]byte(signature))
}

// Digest returns the final hash that is signed: keccak256(0x1901 ||
// domainSeparator || structHash).
func Digest(domain Domain, structHash common.Hash) common.Hash {
	sep := domain.Separator()
	return ethcrypto.Keccak256Hash([]byte{0x19, 0x01}, sep.Bytes(), structHash.Bytes())
}

// Sign produces a recoverable signature over the typed-data digest. It is the
// off-chain counterpart of Recover.
func Sign(key *crypto.PrivateKey, domain Domain, structHash common.Hash) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("consent: nil signing key")
	}
	digest := Digest(domain, structHash)
	return key.Sign(digest.Bytes())
}

// Recover returns the address that signed structHash under domain. Signatures
// with a high S value are rejected so a signature has exactly one valid
// encoding.
func Recover(domain Domain, structHash common.Hash, sig []byte) (crypto.Address, error) {
	if len(sig) != ethcrypto.SignatureLength {
		return crypto.Address{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if s.Cmp(secp256k1HalfN) > 0 || !ethcrypto.ValidateSignatureValues(v, r, s, true) {
		return crypto.Address{}, fmt.Errorf("%w: malformed signature values", ErrBadSignature)
	}
	digest := Digest(domain, structHash)
	signer, err := crypto.RecoverAddress(digest.Bytes(), sig)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return signer, nil
}

// StructEncoder accumulates the 32-byte ABI words of a typed struct.
type StructEncoder struct {
	words []byte
	err   error
}

// NewStruct starts encoding a struct of the given type.
func NewStruct(typeHash common.Hash) *StructEncoder {
	enc := &StructEncoder{}
	enc.Bytes32(typeHash)
	return enc
}

// Uint appends a uint256 word. Negative or oversized values poison the
// encoder.
func (e *StructEncoder) Uint(v *big.Int) {
	if v == nil {
		v = new(big.Int)
	}
	if v.Sign() < 0 {
		e.fail(fmt.Errorf("consent: negative uint256 %s", v))
		return
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		e.fail(fmt.Errorf("consent: value %s overflows uint256", v))
		return
	}
	b := word.Bytes32()
	e.words = append(e.words, b[:]...)
}

// Uint64 appends a small unsigned word.
func (e *StructEncoder) Uint64(v uint64) {
	b := uint256.NewInt(v).Bytes32()
	e.words = append(e.words, b[:]...)
}

// Int64 appends a non-negative timestamp word.
func (e *StructEncoder) Int64(v int64) {
	if v < 0 {
		e.fail(fmt.Errorf("consent: negative value %d", v))
		return
	}
	e.Uint64(uint64(v))
}

// Address appends a left padded address word.
func (e *StructEncoder) Address(a crypto.Address) {
	e.words = append(e.words, common.LeftPadBytes(a[:], 32)...)
}

// Bytes32 appends a raw word.
func (e *StructEncoder) Bytes32(h common.Hash) {
	e.words = append(e.words, h.Bytes()...)
}

// String appends the keccak256 of a dynamic string.
func (e *StructEncoder) String(s string) {
	e.Bytes32(ethcrypto.Keccak256Hash([]byte(s)))
}

func (e *StructEncoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// Hash returns keccak256 over the encoded words.
func (e *StructEncoder) Hash() (common.Hash, error) {
	if e.err != nil {
		return common.Hash{}, e.err
	}
	return ethcrypto.Keccak256Hash(e.words), nil
}
