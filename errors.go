package hermetic

import "fmt"

// NotFoundError reports a library path that is missing or unreadable.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("hermetic: library %s not found: %v", e.Path, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// FormatError reports an object that is not a loadable image for this
// process.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("hermetic: library %s has an unusable format: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// ConfigurationError reports an operation applied in an illegal lifecycle
// order, such as growing a search chain after load.
type ConfigurationError struct {
	Op     string
	Path   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("hermetic: %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("hermetic: %s %s: %s", e.Op, e.Path, e.Reason)
}

// LinkError reports an import that did not resolve through the requester's
// search chain, or an expected entry-point symbol that is absent.
type LinkError struct {
	Symbol    string
	Requester string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("hermetic: cannot resolve symbol %s requested by %s", e.Symbol, e.Requester)
}
