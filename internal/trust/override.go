package trust

import (
	"context"
	"os"
	"strings"
)

// OverrideEnv pins the trust store answer, for headless runs and tests.
const OverrideEnv = "MEDIAKEY_ACCESSIBILITY"

// LookupEnvFunc resolves environment variables.
type LookupEnvFunc func(string) (string, bool)

// WithEnvOverride returns a fixed store when OverrideEnv is set to a
// recognised value, and store otherwise.
func WithEnvOverride(store TrustStore, lookup LookupEnvFunc) TrustStore {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	value, ok := lookup(OverrideEnv)
	if !ok {
		return store
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "granted", "allow", "allowed", "yes", "true":
		return fixedStore(true)
	case "denied", "no", "false", "blocked":
		return fixedStore(false)
	default:
		return store
	}
}

type fixedStore bool

func (f fixedStore) IsTrusted() bool                   { return bool(f) }
func (f fixedStore) Prompt() bool                      { return bool(f) }
func (fixedStore) Reset(context.Context, string) error { return nil }
func (fixedStore) OpenSettings(context.Context) error  { return nil }
