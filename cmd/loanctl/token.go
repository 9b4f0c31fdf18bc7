package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"loanledger/crypto"
	"loanledger/rpc"
)

const defaultSecretEnv = "LOAN_RPC_JWT_SECRET"

// runToken mints a write API token. The subject comes from --subject or from
// the address of --key.
func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var subjectRaw, keyPath, secretEnv, issuer, audience string
	var ttl time.Duration
	fs.StringVar(&subjectRaw, "subject", "", "caller address the token speaks for")
	fs.StringVar(&keyPath, "key", "", "keystore whose address is the subject")
	fs.StringVar(&secretEnv, "secret-env", defaultSecretEnv, "environment variable holding the node's token secret")
	fs.StringVar(&issuer, "issuer", "loand", "issuer the node expects")
	fs.StringVar(&audience, "audience", "loan-api", "audience the node expects")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if (subjectRaw == "") == (keyPath == "") {
		fmt.Fprintln(stderr, "Error: exactly one of --subject or --key is required")
		return 1
	}
	var subject crypto.Address
	if keyPath != "" {
		key, code := loadKey(keyPath, stderr)
		if key == nil {
			return code
		}
		subject = key.Address()
	} else {
		var ok bool
		if subject, ok = decodeAddressFlag("subject", subjectRaw, stderr); !ok {
			return 1
		}
	}
	secret, ok := os.LookupEnv(strings.TrimSpace(secretEnv))
	if !ok || strings.TrimSpace(secret) == "" {
		fmt.Fprintf(stderr, "Error: %s must hold the token secret\n", secretEnv)
		return 1
	}
	token, err := rpc.IssueToken(rpc.AuthConfig{
		HMACSecret: secret,
		Issuer:     strings.TrimSpace(issuer),
		Audience:   strings.TrimSpace(audience),
	}, subject, time.Now(), ttl)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}
