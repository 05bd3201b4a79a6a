package loader

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/hle-runtime/errors"
	"github.com/wippyai/hle-runtime/mem"
	"github.com/wippyai/hle-runtime/objc"
)

// Manifest describes guest metadata a code container cannot carry itself:
// the entry symbol, guest classes and data imports.
type Manifest struct {
	App     App              `toml:"app"`
	Imports []ImportManifest `toml:"imports"`
	Classes []ClassManifest  `toml:"classes"`

	// Dir is the directory containing the manifest (set at load time).
	Dir string `toml:"-"`
}

// App contains image metadata.
type App struct {
	Name   string `toml:"name"`
	Entry  string `toml:"entry"`
	Bundle string `toml:"bundle"`
}

// ImportManifest declares an imported symbol.
type ImportManifest struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`
	// Slot names the guest symbol whose storage receives the address.
	Slot string `toml:"slot"`
}

// ClassManifest declares a guest class.
type ClassManifest struct {
	Name         string           `toml:"name"`
	Super        string           `toml:"super"`
	InstanceSize uint32           `toml:"instance-size"`
	Methods      []MethodManifest `toml:"methods"`
}

// MethodManifest binds a selector to a guest function symbol.
type MethodManifest struct {
	Selector string `toml:"selector"`
	Types    string `toml:"types"`
	Impl     string `toml:"impl"`
	Class    bool   `toml:"class"`
}

// LoadManifest parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.MissingResource("manifest", path, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, errors.Load(fmt.Sprintf("parse error in %s", path), err)
	}
	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errors.Load(fmt.Sprintf("cannot resolve path %s", path), err)
	}
	return m, nil
}

// ParseManifest decodes manifest TOML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.App.Entry == "" {
		m.App.Entry = "main"
	}
	return &m, nil
}

// Image resolves the manifest's symbols against syms.
func (m *Manifest) Image(syms Symbols) (*Image, error) {
	img := &Image{Name: m.App.Name}

	entry, ok := syms.Symbol(m.App.Entry)
	if !ok {
		return nil, errors.NotFound(errors.PhaseLoad, "entry symbol", m.App.Entry)
	}
	img.Entry = entry

	for _, im := range m.Imports {
		kind, err := parseKind(im.Kind)
		if err != nil {
			return nil, err
		}
		imp := Import{Name: im.Name, Kind: kind}
		if im.Slot != "" {
			slot, ok := syms.Symbol(im.Slot)
			if !ok {
				return nil, errors.NotFound(errors.PhaseLoad, "import slot", im.Slot)
			}
			imp.Slot = slot
		}
		img.Imports = append(img.Imports, imp)
	}

	for _, cm := range m.Classes {
		def := objc.ClassDef{Name: cm.Name, Super: cm.Super, InstanceSize: cm.InstanceSize}
		for _, mm := range cm.Methods {
			addr, ok := syms.Symbol(mm.Impl)
			if !ok {
				return nil, errors.New(errors.PhaseLoad, errors.KindNotFound).
					Symbol(mm.Impl).
					Selector(mm.Selector).
					Detail("implementation of %s", cm.Name).
					Build()
			}
			method := objc.GuestMethod(objc.Sel(mm.Selector), mm.Types, addr)
			if mm.Class {
				def.ClassMethods = append(def.ClassMethods, method)
			} else {
				def.Methods = append(def.Methods, method)
			}
		}
		img.Classes = append(img.Classes, def)
	}
	return img, nil
}

func parseKind(s string) (ImportKind, error) {
	switch s {
	case "", "function", "func":
		return Function, nil
	case "data":
		return Data, nil
	}
	return Function, errors.InvalidInput(errors.PhaseLoad, "unknown import kind "+s)
}

// MapSymbols is a Symbols backed by a map.
type MapSymbols map[string]mem.Addr

// Symbol implements Symbols.
func (m MapSymbols) Symbol(name string) (mem.Addr, bool) {
	a, ok := m[name]
	return a, ok
}
