// Package passphrase resolves keystore passphrases for the command line
// tools.
package passphrase

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Keyring resolves the passphrase of each keystore file at most once. For a
// keystore named lender.json it checks <env>_LENDER, then env itself, then
// prompts on the terminal naming the file.
type Keyring struct {
	env    string
	lookup func(string) (string, bool)
	prompt func(label string) (string, error)

	mu    sync.Mutex
	cache map[string]string
}

// NewKeyring returns a keyring reading the environment of the process.
func NewKeyring(env string) *Keyring {
	return &Keyring{
		env:    strings.TrimSpace(env),
		lookup: os.LookupEnv,
		prompt: terminalPrompt,
		cache:  make(map[string]string),
	}
}

// EnvFor returns the variable checked first for keystore.
func (k *Keyring) EnvFor(keystore string) string {
	base := strings.TrimSuffix(filepath.Base(keystore), filepath.Ext(keystore))
	var b strings.Builder
	for _, r := range strings.ToUpper(base) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return k.env
	}
	return k.env + "_" + b.String()
}

// Passphrase returns the passphrase of keystore. Environment values are used
// verbatim; blank values and blank prompts are rejected.
func (k *Keyring) Passphrase(keystore string) (string, error) {
	keystore = strings.TrimSpace(keystore)
	if keystore == "" {
		return "", errors.New("keystore path required")
	}
	id := keystore
	if abs, err := filepath.Abs(keystore); err == nil {
		id = abs
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if value, ok := k.cache[id]; ok {
		return value, nil
	}
	value, err := k.resolve(keystore)
	if err != nil {
		return "", err
	}
	k.cache[id] = value
	return value, nil
}

func (k *Keyring) resolve(keystore string) (string, error) {
	if k.env != "" {
		for _, name := range []string{k.EnvFor(keystore), k.env} {
			value, ok := k.lookup(name)
			if !ok {
				continue
			}
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", name)
			}
			return value, nil
		}
	}
	value, err := k.prompt(fmt.Sprintf("Passphrase for %s", filepath.Base(keystore)))
	if errors.Is(err, errNoTerminal) && k.env != "" {
		return "", fmt.Errorf("keystore passphrase required; set %s or %s or run interactively", k.EnvFor(keystore), k.env)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(value) == "" {
		return "", errors.New("keystore passphrase cannot be empty")
	}
	return value, nil
}

var errNoTerminal = errors.New("keystore passphrase required and no terminal available")

func terminalPrompt(label string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errNoTerminal
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(bytes), nil
}
