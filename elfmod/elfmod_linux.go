//go:build linux && (amd64 || arm64)

package elfmod

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const wordSize = unsafe.Sizeof(uintptr(0))

// SHT_RELR is 19 in the ELF gABI, 0x6fffff00 in its Android flavor;
// debug/elf defines neither.
const (
	shtRelr        = elf.SectionType(19)
	shtAndroidRelr = elf.SectionType(0x6fffff00)
)

type relocKind int

const (
	relocNone relocKind = iota
	relocRelative
	relocSymbol
	relocSymbolAddend
)

// Link maps the image's loadable segments into a fresh address range,
// resolves every undefined reference through resolve, applies relocations,
// re-protects the relro range, runs the image's initializers, and only then
// activates the export table. On failure the reservation is released and the
// image stays permanently unusable; a second call is always an error.
//
// Links of distinct images may run concurrently: each works inside its own
// reservation.
func (im *Image) Link(resolve Resolver) error {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.attempted {
		return errors.New("elfmod: image link was already attempted")
	}
	im.attempted = true
	defer im.closeFile()

	pageSize := uintptr(unix.Getpagesize())
	if err := im.reserve(pageSize); err != nil {
		return err
	}
	success := false
	defer func() {
		if !success {
			_ = unix.Munmap(im.region)
			im.region, im.base, im.loads = nil, 0, nil
		}
	}()

	fd := int(im.osf.Fd())
	for _, p := range im.loads {
		if err := im.mapSegment(p, fd, pageSize); err != nil {
			return err
		}
	}
	relocs, err := im.relocate(resolve)
	if err != nil {
		return err
	}
	if err := im.protectRelro(pageSize); err != nil {
		return err
	}
	im.runInitializers()

	exports := make(map[string]uintptr)
	for _, s := range im.dynsyms {
		if s.Section == elf.SHN_UNDEF || s.Name == "" {
			continue
		}
		if _, ok := exports[s.Name]; ok {
			continue
		}
		exports[s.Name] = im.symbolAddress(s)
	}
	im.exports = exports
	im.linked = true
	success = true

	logger.Debug("image linked",
		zap.String("path", im.path),
		zap.Uintptr("base", im.base),
		zap.Int("relocations", relocs),
		zap.Int("exports", len(exports)),
	)
	return nil
}

// reserve claims one contiguous PROT_NONE span covering every PT_LOAD
// segment; mapSegment later replaces slices of it with real pages.
func (im *Image) reserve(pageSize uintptr) error {
	minVA := uint64(math.MaxUint64)
	var maxVA uint64
	for _, p := range im.ef.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		if p.Filesz > p.Memsz {
			return fmt.Errorf("%w: segment at %#x has file size beyond memory size", ErrBadImage, p.Vaddr)
		}
		if p.Vaddr%uint64(pageSize) != p.Off%uint64(pageSize) {
			return fmt.Errorf("%w: segment at %#x is not page congruent", ErrBadImage, p.Vaddr)
		}
		im.loads = append(im.loads, p)
		if p.Vaddr < minVA {
			minVA = p.Vaddr
		}
		if end := p.Vaddr + p.Memsz; end > maxVA {
			maxVA = end
		}
	}
	if len(im.loads) == 0 {
		return fmt.Errorf("%w: no loadable segments", ErrBadImage)
	}

	spanStart := alignDown(uintptr(minVA), pageSize)
	spanEnd := alignUp(uintptr(maxVA), pageSize)
	span := spanEnd - spanStart
	if span == 0 || span > uintptr(math.MaxInt)/2 {
		return fmt.Errorf("%w: implausible mapping span %#x", ErrBadImage, span)
	}

	region, err := unix.Mmap(-1, 0, int(span), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return fmt.Errorf("elfmod: reserve %d bytes: %w", span, err)
	}
	im.region = region
	im.base = uintptr(unsafe.Pointer(&region[0])) - spanStart
	return nil
}

// mapSegment maps the file-backed part of one PT_LOAD directly from fd, then
// zeroes the tail of its last file page and maps anonymous pages for the
// rest of the zero-fill region.
func (im *Image) mapSegment(p *elf.Prog, fd int, pageSize uintptr) error {
	prot := segmentProt(p.Flags)
	segStart := im.base + uintptr(p.Vaddr)
	fileEnd := segStart + uintptr(p.Filesz)
	memEnd := segStart + uintptr(p.Memsz)

	if p.Filesz > 0 {
		mapStart := alignDown(segStart, pageSize)
		mapLen := alignUp(fileEnd, pageSize) - mapStart
		fileOff := alignDown(uintptr(p.Off), pageSize)
		_, err := unix.MmapPtr(fd, int64(fileOff), unsafe.Pointer(mapStart), mapLen,
			prot, unix.MAP_PRIVATE|unix.MAP_FIXED)
		if err != nil {
			return fmt.Errorf("elfmod: map segment at %#x: %w", p.Vaddr, err)
		}
	}
	if p.Memsz == p.Filesz {
		return nil
	}
	if prot&unix.PROT_WRITE == 0 {
		return fmt.Errorf("%w: zero-fill region in read-only segment at %#x", ErrBadImage, p.Vaddr)
	}

	anonStart := alignUp(fileEnd, pageSize)
	if p.Filesz == 0 {
		anonStart = alignDown(segStart, pageSize)
	} else if anonStart > fileEnd {
		tail := unsafe.Slice((*byte)(unsafe.Pointer(fileEnd)), anonStart-fileEnd)
		clear(tail)
	}
	anonEnd := alignUp(memEnd, pageSize)
	if anonEnd > anonStart {
		_, err := unix.MmapPtr(-1, 0, unsafe.Pointer(anonStart), anonEnd-anonStart,
			prot, unix.MAP_PRIVATE|unix.MAP_FIXED|unix.MAP_ANON)
		if err != nil {
			return fmt.Errorf("elfmod: map zero-fill region at %#x: %w", p.Vaddr+p.Filesz, err)
		}
	}
	return nil
}

func (im *Image) relocate(resolve Resolver) (int, error) {
	applied := 0
	for _, s := range im.ef.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		if s.Type == elf.SHT_REL {
			return applied, fmt.Errorf("%w: REL-format table %s", ErrUnsupportedReloc, s.Name)
		}
		if s.Type == shtRelr || s.Type == shtAndroidRelr || s.Name == ".relr.dyn" {
			return applied, fmt.Errorf("%w: packed RELR table %s; rebuild without -z pack-relative-relocs", ErrUnsupportedReloc, s.Name)
		}
		if s.Type != elf.SHT_RELA {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return applied, fmt.Errorf("elfmod: read relocation table %s: %w", s.Name, err)
		}
		rd := bytes.NewReader(data)
		var rela elf.Rela64
		for rd.Len() > 0 {
			if err := binary.Read(rd, im.ef.ByteOrder, &rela); err != nil {
				return applied, fmt.Errorf("elfmod: decode relocation in %s: %w", s.Name, err)
			}
			if err := im.applyRela(rela, resolve); err != nil {
				return applied, err
			}
			applied++
		}
	}
	return applied, nil
}

func (im *Image) applyRela(rela elf.Rela64, resolve Resolver) error {
	typ := elf.R_TYPE64(rela.Info)
	kind, ok := classifyReloc(typ)
	if !ok {
		return fmt.Errorf("%w: %s at %#x", ErrUnsupportedReloc, relocName(typ), rela.Off)
	}

	var value uintptr
	switch kind {
	case relocNone:
		return nil
	case relocRelative:
		value = im.base + uintptr(rela.Addend)
	default:
		symNo := elf.R_SYM64(rela.Info)
		if symNo == 0 || int(symNo) > len(im.dynsyms) {
			return fmt.Errorf("elfmod: relocation at %#x references symbol %d out of range", rela.Off, symNo)
		}
		sym := im.dynsyms[symNo-1]
		addr, err := im.resolveSymbol(sym, resolve)
		if err != nil {
			return err
		}
		value = addr
		if kind == relocSymbolAddend {
			value += uintptr(rela.Addend)
		}
	}
	return im.writeWord(uintptr(rela.Off), value)
}

// resolveSymbol binds definitions in this image to the image itself;
// everything else goes to the resolver. A weak undefined symbol the resolver
// cannot answer binds to 0.
func (im *Image) resolveSymbol(sym elf.Symbol, resolve Resolver) (uintptr, error) {
	if sym.Section != elf.SHN_UNDEF {
		return im.symbolAddress(sym), nil
	}
	weak := elf.ST_BIND(sym.Info) == elf.STB_WEAK
	if resolve == nil {
		if weak {
			return 0, nil
		}
		return 0, fmt.Errorf("elfmod: undefined symbol %s and no resolver", sym.Name)
	}
	addr, err := resolve(sym.Name)
	if err != nil {
		if weak {
			return 0, nil
		}
		return 0, err
	}
	return addr, nil
}

func (im *Image) symbolAddress(sym elf.Symbol) uintptr {
	if sym.Section == elf.SHN_ABS {
		return uintptr(sym.Value)
	}
	return im.base + uintptr(sym.Value)
}

func (im *Image) writeWord(vaddr, value uintptr) error {
	target := im.base + vaddr
	if !im.inWritableSegment(target, wordSize) {
		return fmt.Errorf("%w: target %#x is not in a writable segment (text relocation)", ErrUnsupportedReloc, vaddr)
	}
	*(*uintptr)(unsafe.Pointer(target)) = value
	return nil
}

func (im *Image) inWritableSegment(addr, size uintptr) bool {
	for _, p := range im.loads {
		if p.Flags&elf.PF_W == 0 {
			continue
		}
		start := im.base + uintptr(p.Vaddr)
		if addr >= start && addr+size <= start+uintptr(p.Memsz) {
			return true
		}
	}
	return false
}

// protectRelro makes the PT_GNU_RELRO range read-only once relocation is
// done. The end rounds down so writable data sharing the last page stays
// writable.
func (im *Image) protectRelro(pageSize uintptr) error {
	for _, p := range im.ef.Progs {
		if p.Type != elf.PT_GNU_RELRO || p.Memsz == 0 {
			continue
		}
		start := alignDown(im.base+uintptr(p.Vaddr), pageSize)
		end := alignDown(im.base+uintptr(p.Vaddr)+uintptr(p.Memsz), pageSize)
		if end <= start {
			continue
		}
		pages := unsafe.Slice((*byte)(unsafe.Pointer(start)), int(end-start))
		if err := unix.Mprotect(pages, unix.PROT_READ); err != nil {
			return fmt.Errorf("elfmod: protect relro range at %#x: %w", p.Vaddr, err)
		}
	}
	return nil
}

// runInitializers calls DT_INIT and then every .init_array entry, in that
// order. Nothing in this package ever runs finalizers: images live until
// process exit.
func (im *Image) runInitializers() {
	if vals, err := im.ef.DynValue(elf.DT_INIT); err == nil && len(vals) > 0 && vals[0] != 0 {
		Invoke(im.base + uintptr(vals[0]))
	}
	for _, s := range im.ef.Sections {
		if s.Type != elf.SHT_INIT_ARRAY || s.Size == 0 {
			continue
		}
		count := int(s.Size / uint64(wordSize))
		for i := 0; i < count; i++ {
			fn := *(*uintptr)(unsafe.Pointer(im.base + uintptr(s.Addr) + uintptr(i)*wordSize))
			if fn == 0 || fn == ^uintptr(0) {
				continue
			}
			Invoke(fn)
		}
	}
}

func (im *Image) closeFile() {
	if im.osf != nil {
		_ = im.osf.Close()
		im.osf = nil
	}
	im.ef = nil
}

func segmentProt(flags elf.ProgFlag) int {
	prot := 0
	if flags&elf.PF_R != 0 {
		prot |= unix.PROT_READ
	}
	if flags&elf.PF_W != 0 {
		prot |= unix.PROT_WRITE
	}
	if flags&elf.PF_X != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func alignDown(v, a uintptr) uintptr {
	if a == 0 {
		return v
	}
	return v &^ (a - 1)
}

func alignUp(v, a uintptr) uintptr {
	if a == 0 {
		return v
	}
	return (v + (a - 1)) &^ (a - 1)
}
