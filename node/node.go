// Package node assembles a complete loan ledger deployment from configuration
// and genesis: storage, the exec runtime, currencies, custody, fee policy,
// flash liquidity, one or more ledger deployments and the refinance
// orchestrator.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"loanledger/config"
	"loanledger/core/events"
	"loanledger/core/exec"
	"loanledger/core/genesis"
	"loanledger/core/state"
	"loanledger/crypto"
	"loanledger/native/access"
	"loanledger/native/bank"
	"loanledger/native/claims"
	nativecommon "loanledger/native/common"
	"loanledger/native/custody"
	"loanledger/native/fees"
	"loanledger/native/flash"
	"loanledger/native/ledger"
	"loanledger/native/origination"
	"loanledger/native/refinance"
	"loanledger/native/settlement"
	"loanledger/observability/logging"
	"loanledger/observability/metrics"
	"loanledger/storage"
)

var (
	// MinterAddress holds the genesis mint authority of currencies and
	// collateral collections.
	MinterAddress       = crypto.ComponentAddress("genesis/minter")
	VaultAddress        = crypto.ComponentAddress("custody/vault")
	FeePolicyAddress    = crypto.ComponentAddress("fees/policy")
	PoolAddress         = crypto.ComponentAddress("flash/pool")
	OrchestratorAddress = crypto.ComponentAddress("refinance/orchestrator")
)

// CurrencyAddress derives the address of the currency with symbol.
func CurrencyAddress(symbol string) crypto.Address {
	return crypto.ComponentAddress("currency/" + symbol)
}

// FeePolicyAddressFor derives the address of a named genesis fee policy.
func FeePolicyAddressFor(name string) crypto.Address {
	return crypto.ComponentAddress("fees/policy/" + name)
}

// CollectionAddress derives the address of a collateral collection.
func CollectionAddress(name string) crypto.Address {
	return crypto.ComponentAddress("collection/" + name)
}

// Deployment is one named ledger with its gateways and role table.
type Deployment struct {
	Name string
	refinance.Deployment
	Roles *access.Roles
}

type Options struct {
	Config  *config.Config
	Genesis *genesis.GenesisSpec
	// DB overrides the database selected by Config.
	DB      storage.Database
	Logger  *slog.Logger
	Metrics *metrics.LedgerMetrics
	// Now overrides the runtime clock.
	Now func() int64
}

type Node struct {
	cfg         *config.Config
	spec        *genesis.GenesisSpec
	db          storage.Database
	state       *state.Manager
	runtime     *exec.Runtime
	logger      *slog.Logger
	pauses      *nativecommon.Pauses
	currencies  *bank.Registry
	collections map[string]crypto.Address
	vault       *custody.Vault
	policy      *fees.Policy
	policies    *fees.Registry
	extra       map[string]*fees.Policy
	pool        *flash.Pool
	deployments []*Deployment
	byName      map[string]*Deployment
	byLedger    map[crypto.Address]*Deployment
	orch        *refinance.Orchestrator
}

// New wires every component and applies genesis on first start.
func New(opts Options) (*Node, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("node: config required")
	}
	if opts.Genesis == nil {
		return nil, fmt.Errorf("node: genesis required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	db := opts.DB
	if db == nil {
		var err error
		db, err = openDatabase(opts.Config)
		if err != nil {
			return nil, err
		}
	}
	n := &Node{
		cfg:         opts.Config,
		spec:        opts.Genesis,
		db:          db,
		state:       state.NewManager(db),
		logger:      logger,
		pauses:      nativecommon.NewPauses(opts.Config.PausedModules...),
		collections: make(map[string]crypto.Address),
		byName:      make(map[string]*Deployment),
		byLedger:    make(map[crypto.Address]*Deployment),
	}

	sinks := events.Fanout{logging.NewEventSink(logger)}
	runtimeOpts := []exec.Option{exec.WithLogger(logger), exec.WithNowFunc(opts.Now)}
	if opts.Metrics != nil {
		sinks = append(sinks, opts.Metrics)
		runtimeOpts = append(runtimeOpts, exec.WithObserver(opts.Metrics))
	}
	runtimeOpts = append(runtimeOpts, exec.WithEmitter(sinks))
	n.runtime = exec.NewRuntime(n.state, runtimeOpts...)

	if err := n.build(); err != nil {
		db.Close()
		return nil, err
	}
	if err := n.applyGenesis(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return n, nil
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	if cfg.InMemory {
		return storage.NewMemDB(), nil
	}
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("node: open database %s: %w", cfg.DataDir, err)
	}
	return db, nil
}

func (n *Node) build() error {
	spec := n.spec
	tokens := make([]*bank.Token, 0, len(spec.Currencies))
	for _, c := range spec.Currencies {
		token, err := bank.NewToken(bank.Config{
			Address:        CurrencyAddress(c.Symbol),
			Symbol:         c.Symbol,
			Minter:         MinterAddress,
			TransferTaxBps: c.TransferTaxBps,
			TaxSink:        c.TaxSinkAddress(),
		})
		if err != nil {
			return err
		}
		tokens = append(tokens, token)
	}
	currencies, err := bank.NewRegistry(tokens...)
	if err != nil {
		return err
	}
	n.currencies = currencies
	for _, c := range spec.Collections {
		n.collections[c.Name] = CollectionAddress(c.Name)
	}

	if n.vault, err = custody.NewVault(custody.Config{Address: VaultAddress, Minter: MinterAddress, ChainID: spec.ChainID}); err != nil {
		return err
	}
	if n.policy, err = fees.NewPolicy(FeePolicyAddress, spec.AdminAddress()); err != nil {
		return err
	}
	if n.policies, err = fees.NewRegistry(n.policy); err != nil {
		return err
	}
	n.extra = make(map[string]*fees.Policy, len(spec.FeePolicies))
	for _, p := range spec.FeePolicies {
		policy, err := fees.NewPolicy(FeePolicyAddressFor(p.Name), spec.AdminAddress())
		if err != nil {
			return err
		}
		if err := n.policies.Register(policy); err != nil {
			return err
		}
		n.extra[p.Name] = policy
	}
	if n.pool, err = flash.NewPool(flash.Config{
		Address:    PoolAddress,
		Currencies: currencies,
		PremiumBps: n.cfg.FlashPremiumBps,
		Logger:     n.logger,
	}); err != nil {
		return err
	}

	wired := make([]refinance.Deployment, 0, len(spec.Deployments))
	for _, d := range spec.Deployments {
		deployment, err := n.buildDeployment(d.Name)
		if err != nil {
			return fmt.Errorf("node: deployment %s: %w", d.Name, err)
		}
		n.deployments = append(n.deployments, deployment)
		n.byName[d.Name] = deployment
		n.byLedger[deployment.Ledger.Address()] = deployment
		wired = append(wired, deployment.Deployment)
	}
	n.orch, err = refinance.New(refinance.Config{
		Address:     OrchestratorAddress,
		Liquidity:   n.pool,
		Deployments: wired,
		Pauses:      n.pauses,
		Logger:      n.logger,
	})
	return err
}

func (n *Node) buildDeployment(name string) (*Deployment, error) {
	ledgerAddr := crypto.ComponentAddress("ledger/" + name)
	borrowerNotes, err := claims.NewRegistry(claims.Config{
		Address: crypto.ComponentAddress("notes/borrower/" + name),
		Kind:    claims.KindBorrower,
		Minter:  ledgerAddr,
	})
	if err != nil {
		return nil, err
	}
	lenderNotes, err := claims.NewRegistry(claims.Config{
		Address: crypto.ComponentAddress("notes/lender/" + name),
		Kind:    claims.KindLender,
		Minter:  ledgerAddr,
	})
	if err != nil {
		return nil, err
	}
	roles := access.NewRoles(ledgerAddr)
	l, err := ledger.New(ledger.Config{
		Address:       ledgerAddr,
		Custody:       n.vault,
		Currencies:    n.currencies,
		FeePolicy:     n.policy,
		Policies:      n.policies,
		BorrowerNotes: borrowerNotes,
		LenderNotes:   lenderNotes,
		Access:        ledger.DefaultAccess(roles),
		FeeTiming:     n.cfg.FeeSnapshot,
		Pauses:        n.pauses,
		Logger:        n.logger,
	})
	if err != nil {
		return nil, err
	}
	orig, err := origination.New(origination.Config{
		Address: crypto.ComponentAddress("origination/" + name),
		ChainID: n.spec.ChainID,
		Ledger:  l,
		Pauses:  n.pauses,
		Logger:  n.logger,
	})
	if err != nil {
		return nil, err
	}
	settle, err := settlement.New(settlement.Config{
		Address: crypto.ComponentAddress("settlement/" + name),
		Ledger:  l,
		Pauses:  n.pauses,
		Logger:  n.logger,
	})
	if err != nil {
		return nil, err
	}
	return &Deployment{
		Name:       name,
		Deployment: refinance.Deployment{Ledger: l, Origination: orig, Settlement: settle},
		Roles:      roles,
	}, nil
}

// Close releases the database.
func (n *Node) Close() {
	if n == nil || n.db == nil {
		return
	}
	n.db.Close()
}

func (n *Node) ChainID() uint64 { return n.spec.ChainID }

func (n *Node) Admin() crypto.Address { return n.spec.AdminAddress() }

// Execute runs fn as one atomic unit on behalf of caller.
func (n *Node) Execute(ctx context.Context, caller crypto.Address, name string, fn func(*exec.Context) error) error {
	return n.runtime.Execute(ctx, caller, name, fn)
}

// View runs fn against current state and discards any writes.
func (n *Node) View(ctx context.Context, fn func(*exec.Context) error) error {
	return n.runtime.View(ctx, fn)
}

func (n *Node) Runtime() *exec.Runtime { return n.runtime }

func (n *Node) Pauses() *nativecommon.Pauses { return n.pauses }

func (n *Node) Currencies() *bank.Registry { return n.currencies }

func (n *Node) Vault() *custody.Vault { return n.vault }

func (n *Node) FeePolicy() *fees.Policy { return n.policy }

// FeePolicies returns every policy a ledger may switch to.
func (n *Node) FeePolicies() *fees.Registry { return n.policies }

// NamedFeePolicy returns the genesis fee policy with name.
func (n *Node) NamedFeePolicy(name string) (*fees.Policy, bool) {
	p, ok := n.extra[name]
	return p, ok
}

func (n *Node) Pool() *flash.Pool { return n.pool }

func (n *Node) Refinance() *refinance.Orchestrator { return n.orch }

// Collection returns the address of the named collateral collection.
func (n *Node) Collection(name string) (crypto.Address, bool) {
	addr, ok := n.collections[name]
	return addr, ok
}

// Deployments returns the deployments in genesis order.
func (n *Node) Deployments() []*Deployment {
	return append([]*Deployment(nil), n.deployments...)
}

// Deployment returns the deployment with name.
func (n *Node) Deployment(name string) (*Deployment, bool) {
	d, ok := n.byName[name]
	return d, ok
}

// DeploymentByLedger returns the deployment whose ledger lives at addr.
func (n *Node) DeploymentByLedger(addr crypto.Address) (*Deployment, bool) {
	d, ok := n.byLedger[addr]
	return d, ok
}

// DeploymentNames returns the sorted deployment names.
func (n *Node) DeploymentNames() []string {
	names := make([]string, 0, len(n.byName))
	for name := range n.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
