// Package hermetic loads private copies of native shared libraries and
// links them through caller-controlled search chains, so several instances
// of an embeddable runtime and its native extensions can coexist in one
// process without sharing any global state.
package hermetic

import (
	"github.com/hermeticlab/hermetic/logging"
)

var logger = logging.New("hermetic")

// Library is a handle over a table of named symbols.
type Library interface {
	// Sym returns the address of name, reporting whether the library
	// defines it.
	Sym(name string) (uintptr, bool)
}
