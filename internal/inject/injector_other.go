//go:build !darwin && !linux

package inject

type unsupportedInjector struct{}

// NewInjector returns an injector that rejects every event.
func NewInjector() (Injector, error) {
	return unsupportedInjector{}, nil
}

func (unsupportedInjector) Post(Event) error { return ErrUnsupported }

func (unsupportedInjector) Close() error { return nil }
