package hermetic

// SearchChain is the resolution policy for a private library's undefined
// imports: members are consulted in insertion order and the first one that
// defines a symbol wins. Later entries, duplicates included, never override
// earlier ones.
//
// The ordering is the entire isolation mechanism. A private tree lists its
// own sibling libraries ahead of the global table in every member's chain,
// so mutual references among the siblings bind to each other and never to a
// same-named library the OS loader may also have resolved globally.
//
// A chain is configuration data owned by exactly one library; it has no
// locking of its own.
type SearchChain struct {
	members []Library
}

// Append adds lib as the lowest-priority member.
func (c *SearchChain) Append(lib Library) {
	c.members = append(c.members, lib)
}

// Len returns the number of members, duplicates included.
func (c *SearchChain) Len() int {
	return len(c.members)
}

// Resolve walks the chain in insertion order and returns the first member's
// answer for name.
func (c *SearchChain) Resolve(name string) (uintptr, bool) {
	for _, lib := range c.members {
		if addr, ok := lib.Sym(name); ok {
			return addr, true
		}
	}
	return 0, false
}
