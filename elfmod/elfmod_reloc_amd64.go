//go:build linux && amd64

package elfmod

import "debug/elf"

func classifyReloc(t uint32) (relocKind, bool) {
	switch elf.R_X86_64(t) {
	case elf.R_X86_64_NONE:
		return relocNone, true
	case elf.R_X86_64_RELATIVE:
		return relocRelative, true
	case elf.R_X86_64_GLOB_DAT, elf.R_X86_64_JMP_SLOT:
		return relocSymbol, true
	case elf.R_X86_64_64:
		return relocSymbolAddend, true
	}
	return relocNone, false
}

func relocName(t uint32) string {
	return elf.R_X86_64(t).String()
}
