package bank

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"loanledger/crypto"
)

// Registry resolves currency addresses referenced by loan terms.
type Registry struct {
	mu       sync.RWMutex
	byAddr   map[crypto.Address]*Token
	bySymbol map[string]*Token
}

// NewRegistry returns a registry pre-populated with tokens.
func NewRegistry(tokens ...*Token) (*Registry, error) {
	r := &Registry{
		byAddr:   make(map[crypto.Address]*Token),
		bySymbol: make(map[string]*Token),
	}
	for _, token := range tokens {
		if err := r.Register(token); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a token. Addresses and symbols must be unique.
func (r *Registry) Register(token *Token) error {
	if token == nil {
		return fmt.Errorf("bank: nil token")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byAddr[token.Address()]; exists {
		return fmt.Errorf("bank: token %s already registered", token.Address())
	}
	if _, exists := r.bySymbol[token.Symbol()]; exists {
		return fmt.Errorf("bank: symbol %s already registered", token.Symbol())
	}
	r.byAddr[token.Address()] = token
	r.bySymbol[token.Symbol()] = token
	return nil
}

// Currency resolves addr to its currency contract.
func (r *Registry) Currency(addr crypto.Address) (Currency, error) {
	token, err := r.Token(addr)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// Token resolves addr to the concrete token.
func (r *Registry) Token(addr crypto.Address) (*Token, error) {
	if r == nil {
		return nil, ErrUnknownCurrency
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.byAddr[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCurrency, addr)
	}
	return token, nil
}

// BySymbol resolves a token by its ticker.
func (r *Registry) BySymbol(symbol string) (*Token, error) {
	if r == nil {
		return nil, ErrUnknownCurrency
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCurrency, symbol)
	}
	return token, nil
}

// Symbols lists the registered tickers.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bySymbol))
	for symbol := range r.bySymbol {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
