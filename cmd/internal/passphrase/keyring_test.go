package passphrase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKeyring(env map[string]string, prompts *[]string, answer string) *Keyring {
	k := NewKeyring("LOANCTL_PASS")
	k.lookup = func(name string) (string, bool) {
		value, ok := env[name]
		return value, ok
	}
	k.prompt = func(label string) (string, error) {
		*prompts = append(*prompts, label)
		return answer, nil
	}
	return k
}

func TestEnvFor(t *testing.T) {
	k := NewKeyring("LOANCTL_PASS")
	require.Equal(t, "LOANCTL_PASS_LENDER", k.EnvFor("/keys/lender.json"))
	require.Equal(t, "LOANCTL_PASS_DESK_2", k.EnvFor("desk-2.json"))
	require.Equal(t, "LOANCTL_PASS", k.EnvFor(".json"))
}

func TestKeyringPrefersPerKeyEnvironment(t *testing.T) {
	var prompts []string
	k := testKeyring(map[string]string{
		"LOANCTL_PASS_LENDER": " lender secret ",
		"LOANCTL_PASS":        "shared",
	}, &prompts, "typed")

	got, err := k.Passphrase("keys/lender.json")
	require.NoError(t, err)
	require.Equal(t, " lender secret ", got)

	got, err = k.Passphrase("keys/borrower.json")
	require.NoError(t, err)
	require.Equal(t, "shared", got)
	require.Empty(t, prompts)
}

func TestKeyringPromptsOncePerKeystore(t *testing.T) {
	var prompts []string
	k := testKeyring(nil, &prompts, "typed")

	for i := 0; i < 2; i++ {
		got, err := k.Passphrase("lender.json")
		require.NoError(t, err)
		require.Equal(t, "typed", got)
	}
	_, err := k.Passphrase("borrower.json")
	require.NoError(t, err)
	require.Equal(t, []string{"Passphrase for lender.json", "Passphrase for borrower.json"}, prompts)
}

func TestKeyringRejectsBlankValues(t *testing.T) {
	var prompts []string
	_, err := testKeyring(map[string]string{"LOANCTL_PASS_LENDER": "   "}, &prompts, "x").Passphrase("lender.json")
	require.ErrorContains(t, err, "LOANCTL_PASS_LENDER is set but empty")

	_, err = testKeyring(nil, &prompts, "  ").Passphrase("lender.json")
	require.ErrorContains(t, err, "cannot be empty")

	_, err = testKeyring(nil, &prompts, "x").Passphrase(" ")
	require.Error(t, err)
}

func TestKeyringNamesVariablesWithoutTerminal(t *testing.T) {
	k := NewKeyring("LOANCTL_PASS")
	k.lookup = func(string) (string, bool) { return "", false }
	k.prompt = func(string) (string, error) { return "", errNoTerminal }
	_, err := k.Passphrase("lender.json")
	require.ErrorContains(t, err, "set LOANCTL_PASS_LENDER or LOANCTL_PASS")

	k.prompt = func(string) (string, error) { return "", errors.New("tty closed") }
	_, err = k.Passphrase("lender.json")
	require.ErrorContains(t, err, "tty closed")
}
