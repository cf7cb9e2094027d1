package symbol

import (
	"debug/dwarf"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

var (
	ErrSymbolNotFound = errors.New("symbol not found")
	ErrTypeNotFound   = errors.New("type not found")
)

// Field is one named member of a struct type in the target firmware.
type Field struct {
	Name   string
	Offset uint64
	Size   int64
	Struct *StructType // non-nil when the member is itself a struct
}

// StructType describes a struct type read out of the firmware's DWARF info:
// the named-field reflection surface the thread schema check runs against.
type StructType struct {
	Name    string
	Size    int64
	Members []Field
}

// Member returns the named field.
func (s *StructType) Member(name string) (Field, bool) {
	for _, f := range s.Members {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasMember reports whether the struct carries the named field.
func (s *StructType) HasMember(name string) bool {
	_, ok := s.Member(name)
	return ok
}

// Binary holds everything we need from the firmware ELF: global symbol
// addresses, struct layouts from DWARF, and the target's word encoding.
type Binary struct {
	Path    string
	Order   binary.ByteOrder
	PtrSize int

	syms    map[string]uint64
	dwarf   *dwarf.Data
	layouts *lru.Cache // type name -> *StructType, DWARF is static so caching is safe
}

// Analyze loads the firmware ELF at execFile and returns its binary info.
// The file must carry a symbol table and DWARF debug info (build the
// firmware with -g, do not strip it).
func Analyze(execFile string) (*Binary, error) {
	file, err := elf.Open(execFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	bi := &Binary{
		Path:    execFile,
		Order:   binary.ByteOrder(binary.LittleEndian),
		PtrSize: 4,
		syms:    make(map[string]uint64),
	}
	if file.Data == elf.ELFDATA2MSB {
		bi.Order = binary.BigEndian
	}
	if file.Class == elf.ELFCLASS64 {
		bi.PtrSize = 8
	}

	symbols, err := file.Symbols()
	if err != nil {
		return nil, fmt.Errorf("read symbol table of %s: %w", execFile, err)
	}
	for _, s := range symbols {
		if s.Name == "" {
			continue
		}
		bi.syms[s.Name] = s.Value
	}

	dwarfData, err := file.DWARF()
	if err != nil {
		return nil, fmt.Errorf("read DWARF of %s: %w", execFile, err)
	}
	bi.dwarf = dwarfData

	bi.layouts, err = lru.New(16)
	if err != nil {
		return nil, err
	}

	return bi, nil
}

// LookupSymbol resolves a global symbol name to its address.
func (b *Binary) LookupSymbol(name string) (uint64, error) {
	addr, ok := b.syms[name]
	if !ok {
		return 0, fmt.Errorf("%s: %w", name, ErrSymbolNotFound)
	}
	return addr, nil
}

// LookupAnySymbol resolves the first of the candidate names that exists.
// Kernel versions rename their globals; callers pass every known spelling.
func (b *Binary) LookupAnySymbol(names ...string) (uint64, error) {
	for _, name := range names {
		if addr, ok := b.syms[name]; ok {
			return addr, nil
		}
	}
	return 0, fmt.Errorf("none of %v: %w", names, ErrSymbolNotFound)
}

// LookupStruct finds the named struct (or a typedef of one) in the DWARF
// info and returns its member layout. Results are cached per binary.
func (b *Binary) LookupStruct(name string) (*StructType, error) {
	if v, ok := b.layouts.Get(name); ok {
		return v.(*StructType), nil
	}

	rd := b.dwarf.Reader()
	for {
		entry, err := rd.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagStructType && entry.Tag != dwarf.TagTypedef {
			continue
		}
		nm, _ := entry.Val(dwarf.AttrName).(string)
		if nm != name {
			if entry.Tag == dwarf.TagStructType && entry.Children {
				rd.SkipChildren()
			}
			continue
		}

		typ, err := b.dwarf.Type(entry.Offset)
		if err != nil {
			return nil, err
		}
		st, ok := resolveStruct(typ)
		if !ok {
			// a typedef of something that is not a struct, keep looking
			continue
		}

		res := convertStruct(name, st, 0)
		b.layouts.Add(name, res)
		return res, nil
	}
	return nil, fmt.Errorf("struct %s: %w", name, ErrTypeNotFound)
}

// resolveStruct unwraps typedefs and qualifiers down to a struct type.
func resolveStruct(typ dwarf.Type) (*dwarf.StructType, bool) {
	for {
		switch t := typ.(type) {
		case *dwarf.StructType:
			return t, true
		case *dwarf.TypedefType:
			typ = t.Type
		case *dwarf.QualType:
			typ = t.Type
		default:
			return nil, false
		}
	}
}

// convertStruct flattens a DWARF struct into our StructType, descending one
// level into struct-typed members (enough for thread.p_ctx.r13; the schema
// never needs to see deeper).
func convertStruct(name string, st *dwarf.StructType, depth int) *StructType {
	out := &StructType{Name: name, Size: st.ByteSize}
	if out.Name == "" {
		out.Name = st.StructName
	}
	for _, f := range st.Field {
		member := Field{
			Name:   f.Name,
			Offset: uint64(f.ByteOffset),
			Size:   f.Type.Size(),
		}
		if inner, ok := resolveStruct(f.Type); ok && depth < 1 {
			member.Struct = convertStruct(f.Name, inner, depth+1)
		}
		out.Members = append(out.Members, member)
	}
	return out
}
