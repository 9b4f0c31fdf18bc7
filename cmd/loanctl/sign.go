package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"loanledger/native/consent"
	"loanledger/native/custody"
	"loanledger/native/origination"
	"loanledger/rpc"
)

func runSignTerms(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sign-terms", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var keyPath, termsPath, borrowerRaw, lenderRaw, gatewayRaw string
	var chainID, nonce uint64
	var deadline int64
	fs.StringVar(&keyPath, "key", "", "keystore of the signing participant")
	fs.StringVar(&termsPath, "terms", "", "JSON terms file, - for stdin")
	fs.StringVar(&borrowerRaw, "borrower", "", "borrower address")
	fs.StringVar(&lenderRaw, "lender", "", "lender address")
	fs.StringVar(&gatewayRaw, "gateway", "", "origination gateway address")
	fs.Uint64Var(&chainID, "chain-id", 0, "chain id of the deployment")
	fs.Uint64Var(&nonce, "nonce", 0, "signer's current gateway nonce")
	fs.Int64Var(&deadline, "deadline", 0, "unix time after which the signature is void")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	borrower, ok := decodeAddressFlag("borrower", borrowerRaw, stderr)
	if !ok {
		return 1
	}
	lender, ok := decodeAddressFlag("lender", lenderRaw, stderr)
	if !ok {
		return 1
	}
	gateway, ok := decodeAddressFlag("gateway", gatewayRaw, stderr)
	if !ok {
		return 1
	}
	if deadline <= 0 {
		fmt.Fprintln(stderr, "Error: --deadline must be positive")
		return 1
	}
	wire, err := readTerms(termsPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	terms := wire.Ledger()
	if err := terms.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	domain := origination.Domain(gateway, chainID)
	if err := domain.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, code := loadKey(keyPath, stderr)
	if key == nil {
		return code
	}
	signer := key.Address()
	if signer != borrower && signer != lender {
		fmt.Fprintf(stderr, "Error: key %s is neither borrower nor lender\n", signer)
		return 1
	}
	sig, err := origination.SignTerms(key, domain, terms, borrower, lender, nonce, deadline)
	if err != nil {
		fmt.Fprintf(stderr, "Error: sign terms: %v\n", err)
		return 1
	}
	return writeSignature(stdout, signer, nonce, deadline, sig)
}

func readTerms(path string) (rpc.Terms, error) {
	var terms rpc.Terms
	path = strings.TrimSpace(path)
	if path == "" {
		return terms, fmt.Errorf("--terms is required")
	}
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return terms, fmt.Errorf("read terms: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&terms); err != nil {
		return terms, fmt.Errorf("decode terms: %w", err)
	}
	return terms, nil
}

func runSignPermit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sign-permit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var keyPath, vaultRaw, spenderRaw, collectionRaw string
	var chainID, tokenID, nonce uint64
	var deadline int64
	fs.StringVar(&keyPath, "key", "", "keystore of the collateral owner")
	fs.StringVar(&vaultRaw, "vault", "", "collateral vault address")
	fs.StringVar(&spenderRaw, "spender", "", "account allowed to move the asset")
	fs.StringVar(&collectionRaw, "collection", "", "collection address of the asset")
	fs.Uint64Var(&tokenID, "token-id", 0, "token id of the asset")
	fs.Uint64Var(&chainID, "chain-id", 0, "chain id of the deployment")
	fs.Uint64Var(&nonce, "nonce", 0, "owner's current vault nonce")
	fs.Int64Var(&deadline, "deadline", 0, "unix time after which the permit is void")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	vaultAddr, ok := decodeAddressFlag("vault", vaultRaw, stderr)
	if !ok {
		return 1
	}
	spender, ok := decodeAddressFlag("spender", spenderRaw, stderr)
	if !ok {
		return 1
	}
	collection, ok := decodeAddressFlag("collection", collectionRaw, stderr)
	if !ok {
		return 1
	}
	if deadline <= 0 {
		fmt.Fprintln(stderr, "Error: --deadline must be positive")
		return 1
	}
	vault, err := custody.NewVault(custody.Config{Address: vaultAddr, ChainID: chainID})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, code := loadKey(keyPath, stderr)
	if key == nil {
		return code
	}
	owner := key.Address()
	asset := custody.AssetID{Collection: collection, TokenID: tokenID}
	hash, err := custody.PermitHash(owner, spender, asset, nonce, deadline)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	sig, err := consent.Sign(key, vault.Domain(), hash)
	if err != nil {
		fmt.Fprintf(stderr, "Error: sign permit: %v\n", err)
		return 1
	}
	return writeSignature(stdout, owner, nonce, deadline, sig)
}
