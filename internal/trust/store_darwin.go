//go:build darwin

package trust

/*
#cgo darwin LDFLAGS: -framework ApplicationServices -framework CoreFoundation
#include <ApplicationServices/ApplicationServices.h>
#include <CoreFoundation/CoreFoundation.h>

static Boolean axTrustedPrompt(void) {
	const void *keys[] = { kAXTrustedCheckOptionPrompt };
	const void *values[] = { kCFBooleanTrue };
	CFDictionaryRef options = CFDictionaryCreate(kCFAllocatorDefault, keys, values, 1,
	                                             &kCFTypeDictionaryKeyCallBacks,
	                                             &kCFTypeDictionaryValueCallBacks);
	Boolean trusted = AXIsProcessTrustedWithOptions(options);
	CFRelease(options);
	return trusted;
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// SettingsURL opens the Accessibility list in System Settings.
const SettingsURL = "x-apple.systempreferences:com.apple.preference.security?Privacy_Accessibility"

// accessibilityStore is the macOS TCC Accessibility database.
type accessibilityStore struct{}

// NewStore returns the host trust store.
func NewStore() TrustStore {
	return accessibilityStore{}
}

func (accessibilityStore) IsTrusted() bool {
	return C.AXIsProcessTrusted() != 0
}

func (accessibilityStore) Prompt() bool {
	return C.axTrustedPrompt() != 0
}

func (accessibilityStore) Reset(ctx context.Context, identity string) error {
	if identity == "" {
		return errors.New("no bundle identity configured")
	}
	out, err := exec.CommandContext(ctx, "/usr/bin/tccutil", "reset", "Accessibility", identity).CombinedOutput()
	if err != nil {
		return fmt.Errorf("tccutil: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (accessibilityStore) OpenSettings(ctx context.Context) error {
	if err := exec.CommandContext(ctx, "/usr/bin/open", SettingsURL).Run(); err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	return nil
}
