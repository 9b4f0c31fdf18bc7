// Package genesis describes the initial state of a devnet: currencies,
// collateral collections, ledger deployments and starting balances.
package genesis

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"loanledger/crypto"
	"loanledger/native/access"
	"loanledger/native/fees"
)

type GenesisSpec struct {
	GenesisTime    string                       `yaml:"genesisTime"`
	ChainID        uint64                       `yaml:"chainId"`
	Admin          string                       `yaml:"admin"`
	FeeBps         *uint64                      `yaml:"feeBps,omitempty"`
	Currencies     []CurrencySpec               `yaml:"currencies"`
	Collections    []CollectionSpec             `yaml:"collections"`
	Deployments    []DeploymentSpec             `yaml:"deployments"`
	FeePolicies    []FeePolicySpec              `yaml:"feePolicies,omitempty"`
	Alloc          map[string]map[string]string `yaml:"alloc"` // addr -> currency -> amount
	Assets         []AssetSpec                  `yaml:"assets"`
	FlashLiquidity map[string]string            `yaml:"flashLiquidity"` // currency -> amount
	Roles          map[string][]string          `yaml:"roles"`          // role -> []addr

	genesisTimestamp time.Time
	admin            crypto.Address
	alloc            []Allocation
	liquidity        []Allocation
	assets           []AssetAllocation
	roles            []RoleGrant
}

type CurrencySpec struct {
	Symbol         string `yaml:"symbol"`
	TransferTaxBps uint64 `yaml:"transferTaxBps,omitempty"`
	TaxSink        string `yaml:"taxSink,omitempty"`

	taxSink crypto.Address
}

type CollectionSpec struct {
	Name string `yaml:"name"`
}

type DeploymentSpec struct {
	Name string `yaml:"name"`
}

// FeePolicySpec declares an alternative fee policy ledgers may switch to.
type FeePolicySpec struct {
	Name   string  `yaml:"name"`
	FeeBps *uint64 `yaml:"feeBps,omitempty"`
}

type AssetSpec struct {
	Owner      string   `yaml:"owner"`
	Collection string   `yaml:"collection"`
	TokenIDs   []uint64 `yaml:"tokenIds"`
}

// Allocation is a parsed starting balance.
type Allocation struct {
	Account  crypto.Address
	Currency string
	Amount   *big.Int
}

// AssetAllocation is a parsed starting collateral holding.
type AssetAllocation struct {
	Owner      crypto.Address
	Collection string
	TokenID    uint64
}

// RoleGrant is an extra role membership granted on every deployment.
type RoleGrant struct {
	Role    access.Role
	Account crypto.Address
}

func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseGenesisSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes and validates a YAML genesis document.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

func (s *GenesisSpec) AdminAddress() crypto.Address { return s.admin }

// OriginationFeeBps returns the configured fee or the policy default.
func (s *GenesisSpec) OriginationFeeBps() uint64 {
	if s.FeeBps == nil {
		return fees.DefaultOriginationFeeBps
	}
	return *s.FeeBps
}

// Allocations returns the starting balances sorted by account and currency.
func (s *GenesisSpec) Allocations() []Allocation { return s.alloc }

// Liquidity returns the flash pool's starting balances sorted by currency.
func (s *GenesisSpec) Liquidity() []Allocation { return s.liquidity }

func (s *GenesisSpec) AssetAllocations() []AssetAllocation { return s.assets }

func (s *GenesisSpec) RoleGrants() []RoleGrant { return s.roles }

// TaxSinkAddress returns the parsed tax sink of c.
func (c CurrencySpec) TaxSinkAddress() crypto.Address { return c.taxSink }

func (s *GenesisSpec) validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	if s.ChainID == 0 {
		return fmt.Errorf("chainId must be set")
	}
	admin, err := crypto.DecodeAddress(strings.TrimSpace(s.Admin))
	if err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	s.admin = admin
	if s.FeeBps != nil && *s.FeeBps > fees.MaxBps {
		return fmt.Errorf("feeBps: %d exceeds %d", *s.FeeBps, fees.MaxBps)
	}

	currencies := make(map[string]struct{}, len(s.Currencies))
	for i := range s.Currencies {
		c := &s.Currencies[i]
		c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
		if c.Symbol == "" {
			return fmt.Errorf("currency[%d]: symbol must be provided", i)
		}
		if _, exists := currencies[c.Symbol]; exists {
			return fmt.Errorf("currency[%d]: duplicate symbol %q", i, c.Symbol)
		}
		if c.TransferTaxBps > fees.MaxBps {
			return fmt.Errorf("currency[%d]: transferTaxBps %d exceeds %d", i, c.TransferTaxBps, fees.MaxBps)
		}
		if strings.TrimSpace(c.TaxSink) != "" {
			sink, err := crypto.DecodeAddress(strings.TrimSpace(c.TaxSink))
			if err != nil {
				return fmt.Errorf("currency[%d]: taxSink: %w", i, err)
			}
			c.taxSink = sink
		}
		currencies[c.Symbol] = struct{}{}
	}

	collections := make(map[string]struct{}, len(s.Collections))
	for i, c := range s.Collections {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return fmt.Errorf("collection[%d]: name must be provided", i)
		}
		if _, exists := collections[name]; exists {
			return fmt.Errorf("collection[%d]: duplicate name %q", i, name)
		}
		collections[name] = struct{}{}
	}

	if len(s.Deployments) == 0 {
		return fmt.Errorf("at least one deployment is required")
	}
	deployments := make(map[string]struct{}, len(s.Deployments))
	for i, d := range s.Deployments {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return fmt.Errorf("deployment[%d]: name must be provided", i)
		}
		if _, exists := deployments[name]; exists {
			return fmt.Errorf("deployment[%d]: duplicate name %q", i, name)
		}
		deployments[name] = struct{}{}
	}

	policies := make(map[string]struct{}, len(s.FeePolicies))
	for i := range s.FeePolicies {
		p := &s.FeePolicies[i]
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return fmt.Errorf("feePolicies[%d]: name must be provided", i)
		}
		if _, exists := policies[p.Name]; exists {
			return fmt.Errorf("feePolicies[%d]: duplicate name %q", i, p.Name)
		}
		if p.FeeBps != nil && *p.FeeBps > fees.MaxBps {
			return fmt.Errorf("feePolicies[%d]: feeBps %d exceeds %d", i, *p.FeeBps, fees.MaxBps)
		}
		policies[p.Name] = struct{}{}
	}

	s.alloc = s.alloc[:0]
	for account, balances := range s.Alloc {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(account))
		if err != nil {
			return fmt.Errorf("alloc %q: %w", account, err)
		}
		for symbol, raw := range balances {
			allocation, err := parseAllocation(addr, symbol, raw, currencies)
			if err != nil {
				return fmt.Errorf("alloc %q: %w", account, err)
			}
			s.alloc = append(s.alloc, allocation)
		}
	}
	sortAllocations(s.alloc)

	s.liquidity = s.liquidity[:0]
	for symbol, raw := range s.FlashLiquidity {
		allocation, err := parseAllocation(crypto.Address{}, symbol, raw, currencies)
		if err != nil {
			return fmt.Errorf("flashLiquidity: %w", err)
		}
		s.liquidity = append(s.liquidity, allocation)
	}
	sortAllocations(s.liquidity)

	s.assets = s.assets[:0]
	seen := make(map[string]struct{})
	for i, a := range s.Assets {
		owner, err := crypto.DecodeAddress(strings.TrimSpace(a.Owner))
		if err != nil {
			return fmt.Errorf("asset[%d]: owner: %w", i, err)
		}
		collection := strings.TrimSpace(a.Collection)
		if _, ok := collections[collection]; !ok {
			return fmt.Errorf("asset[%d]: unknown collection %q", i, a.Collection)
		}
		for _, id := range a.TokenIDs {
			key := fmt.Sprintf("%s/%d", collection, id)
			if _, dup := seen[key]; dup {
				return fmt.Errorf("asset[%d]: token %s allocated twice", i, key)
			}
			seen[key] = struct{}{}
			s.assets = append(s.assets, AssetAllocation{Owner: owner, Collection: collection, TokenID: id})
		}
	}

	s.roles = s.roles[:0]
	for role, members := range s.Roles {
		r := access.Role(strings.ToLower(strings.TrimSpace(role)))
		if r != access.RoleAdmin && r != access.RoleOriginator && r != access.RoleRepayer {
			return fmt.Errorf("roles: unknown role %q", role)
		}
		for _, member := range members {
			addr, err := crypto.DecodeAddress(strings.TrimSpace(member))
			if err != nil {
				return fmt.Errorf("roles %q: %w", role, err)
			}
			s.roles = append(s.roles, RoleGrant{Role: r, Account: addr})
		}
	}
	sort.Slice(s.roles, func(i, j int) bool {
		if s.roles[i].Role != s.roles[j].Role {
			return s.roles[i].Role < s.roles[j].Role
		}
		return s.roles[i].Account.Hex() < s.roles[j].Account.Hex()
	})
	return nil
}

func parseAllocation(account crypto.Address, symbol, raw string, currencies map[string]struct{}) (Allocation, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if _, ok := currencies[normalized]; !ok {
		return Allocation{}, fmt.Errorf("unknown currency %q", symbol)
	}
	amount, err := parseAmountString(raw)
	if err != nil {
		return Allocation{}, fmt.Errorf("%s: %w", normalized, err)
	}
	return Allocation{Account: account, Currency: normalized, Amount: amount}, nil
}

func sortAllocations(in []Allocation) {
	sort.Slice(in, func(i, j int) bool {
		if in[i].Account != in[j].Account {
			return in[i].Account.Hex() < in[j].Account.Hex()
		}
		return in[i].Currency < in[j].Currency
	})
}

func parseAmountString(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must be provided")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseGenesisTime(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid genesisTime: %w", err)
	}
	return ts.UTC(), nil
}
