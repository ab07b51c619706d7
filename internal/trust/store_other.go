//go:build !darwin && !linux

package trust

import (
	"context"
	"log/slog"
)

type unsupportedStore struct{}

// NewStore returns a store that never grants; there is no injection backend
// on this platform.
func NewStore() TrustStore {
	return unsupportedStore{}
}

func (unsupportedStore) IsTrusted() bool { return false }

func (unsupportedStore) Prompt() bool {
	slog.Warn("Input injection is not supported on this platform")
	return false
}

func (unsupportedStore) Reset(context.Context, string) error { return nil }

func (unsupportedStore) OpenSettings(context.Context) error { return nil }
