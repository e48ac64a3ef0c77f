//go:build linux && arm64

package elfmod

import "debug/elf"

func classifyReloc(t uint32) (relocKind, bool) {
	switch elf.R_AARCH64(t) {
	case elf.R_AARCH64_NONE, elf.R_AARCH64_NULL:
		return relocNone, true
	case elf.R_AARCH64_RELATIVE:
		return relocRelative, true
	case elf.R_AARCH64_GLOB_DAT, elf.R_AARCH64_JUMP_SLOT:
		return relocSymbol, true
	case elf.R_AARCH64_ABS64:
		return relocSymbolAddend, true
	}
	return relocNone, false
}

func relocName(t uint32) string {
	return elf.R_AARCH64(t).String()
}
