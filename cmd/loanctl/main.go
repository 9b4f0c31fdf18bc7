// Command loanctl manages participant keys, produces the signatures the
// origination gateway and the collateral vault verify, and issues API tokens.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"loanledger/cmd/internal/passphrase"
	"loanledger/crypto"
)

const passphraseEnv = "LOANCTL_PASS"

// keys is reset by every run so each invocation reads the environment afresh.
var keys = passphrase.NewKeyring(passphraseEnv)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	keys = passphrase.NewKeyring(passphraseEnv)
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "sign-terms":
		return runSignTerms(args[1:], stdout, stderr)
	case "sign-permit":
		return runSignPermit(args[1:], stdout, stderr)
	case "token":
		return runToken(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.Join([]string{
		"Usage: loanctl <command> [flags]",
		"",
		"Commands:",
		"  keygen       generate a participant key into a keystore file",
		"  address      print the address held by a keystore",
		"  sign-terms   sign loan terms for an origination gateway",
		"  sign-permit  sign a collateral permit for the vault",
		"  token        issue an API bearer token for an address",
		"",
		"A keystore passphrase is read from " + passphraseEnv + "_<NAME> for <name>.json,",
		"then from " + passphraseEnv + ", or prompted for.",
	}, "\n")
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var out string
	var overwrite bool
	fs.StringVar(&out, "out", "participant.json", "keystore file to write")
	fs.BoolVar(&overwrite, "overwrite", false, "replace an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	out = strings.TrimSpace(out)
	pass, err := keys.Passphrase(out)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: generate key: %v\n", err)
		return 1
	}
	if err := crypto.SaveToKeystore(out, key, pass, overwrite); err != nil {
		fmt.Fprintf(stderr, "Error: write keystore: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Saved keystore to %s\n", out)
	fmt.Fprintf(stdout, "Address: %s\n", key.Address())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var keyPath string
	fs.StringVar(&keyPath, "key", "", "keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, code := loadKey(keyPath, stderr)
	if key == nil {
		return code
	}
	addr := key.Address()
	fmt.Fprintf(stdout, "%s\n%s\n", addr, addr.Hex())
	return 0
}

func loadKey(path string, stderr io.Writer) (*crypto.PrivateKey, int) {
	path = strings.TrimSpace(path)
	if path == "" {
		fmt.Fprintln(stderr, "Error: --key is required")
		return nil, 1
	}
	pass, err := keys.Passphrase(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 1
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		fmt.Fprintf(stderr, "Error: load keystore: %v\n", err)
		return nil, 1
	}
	return key, 0
}

// signatureOutput is the JSON printed by the signing commands. It mirrors the
// consent signature the gateways expect.
type signatureOutput struct {
	Signer    crypto.Address `json:"signer"`
	Nonce     uint64         `json:"nonce"`
	Deadline  int64          `json:"deadline"`
	Signature string         `json:"signature"`
}

func writeSignature(stdout io.Writer, signer crypto.Address, nonce uint64, deadline int64, sig []byte) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(signatureOutput{
		Signer:    signer,
		Nonce:     nonce,
		Deadline:  deadline,
		Signature: "0x" + hex.EncodeToString(sig),
	}); err != nil {
		return 1
	}
	return 0
}

func decodeAddressFlag(name, value string, stderr io.Writer) (crypto.Address, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		fmt.Fprintf(stderr, "Error: --%s is required\n", name)
		return crypto.Address{}, false
	}
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid --%s: %v\n", name, err)
		return crypto.Address{}, false
	}
	return addr, true
}
