//go:build darwin

package inject

/*
#cgo darwin CFLAGS: -x objective-c -fmodules -fobjc-arc
#cgo darwin LDFLAGS: -framework Cocoa -framework ApplicationServices
#include <ApplicationServices/ApplicationServices.h>
#include <Cocoa/Cocoa.h>

// NX_SUBTYPE_AUX_CONTROL_BUTTONS
static const short auxControlSubtype = 8;

static int postAuxControl(long data1, unsigned long flags) {
	@autoreleasepool {
		NSEvent *ev = [NSEvent otherEventWithType:NSEventTypeSystemDefined
		                                 location:NSZeroPoint
		                            modifierFlags:(NSEventModifierFlags)flags
		                                timestamp:[[NSProcessInfo processInfo] systemUptime]
		                             windowNumber:0
		                                  context:nil
		                                  subtype:auxControlSubtype
		                                    data1:data1
		                                    data2:-1];
		if (ev == nil) {
			return 0;
		}
		CGEventRef cg = [ev CGEvent];
		if (cg == NULL) {
			return 0;
		}
		CGEventPost(kCGSessionEventTap, cg);
		return 1;
	}
}

static int postKeyCode(int keycode, int down) {
	CGEventRef ev = CGEventCreateKeyboardEvent(NULL, (CGKeyCode)keycode, down ? true : false);
	if (ev == NULL) {
		return 0;
	}
	CGEventPost(kCGSessionEventTap, ev);
	CFRelease(ev);
	return 1;
}
*/
import "C"

import (
	"fmt"

	"go.olrik.dev/mediakey/internal/keys"
)

// sessionInjector posts into the login session's event tap. Without
// Accessibility trust CGEventPost silently drops the event.
type sessionInjector struct{}

// NewInjector returns the host injector.
func NewInjector() (Injector, error) {
	return sessionInjector{}, nil
}

func (sessionInjector) Post(ev Event) error {
	var ok C.int
	switch ev.Code.Kind() {
	case keys.KindKeyCode:
		down := 0
		if ev.Down() {
			down = 1
		}
		ok = C.postKeyCode(C.int(ev.Code), C.int(down))
	default:
		ok = C.postAuxControl(C.long(ev.Data1()), C.ulong(ev.Flags()))
	}
	if ok == 0 {
		return fmt.Errorf("failed to create %s event", ev)
	}
	return nil
}

func (sessionInjector) Close() error { return nil }
