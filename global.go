package hermetic

import (
	"sync"

	"github.com/hermeticlab/hermetic/elfmod"
)

// GlobalLibrary answers symbol queries from the process-wide table the OS
// loader established: the executable plus everything it resolved normally.
// It is stateless and shared by every chain that includes it. Placing it
// last in a chain keeps already-shared facilities shared instead of
// duplicating them per private tree.
type GlobalLibrary struct{}

var (
	globalOnce sync.Once
	globalLib  *GlobalLibrary
)

// Global returns the process-wide library handle.
func Global() *GlobalLibrary {
	globalOnce.Do(func() {
		globalLib = &GlobalLibrary{}
	})
	return globalLib
}

// Sym looks name up in the process-global symbol table.
func (g *GlobalLibrary) Sym(name string) (uintptr, bool) {
	return elfmod.GlobalSym(name)
}
