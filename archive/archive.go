package archive

import (
	"howett.net/plist"

	"github.com/wippyai/hle-runtime/errors"
)

// keyedArchiver is the $archiver value of archives this package reads.
const keyedArchiver = "NSKeyedArchiver"

// nullObject is the object table entry that stands for nil.
const nullObject = "$null"

// Archive is a parsed keyed archive.
type Archive struct {
	Version uint64
	Top     map[string]any
	Objects []any
}

type rawArchive struct {
	Archiver string         `plist:"$archiver"`
	Version  uint64         `plist:"$version"`
	Top      map[string]any `plist:"$top"`
	Objects  []any          `plist:"$objects"`
}

// Parse decodes a keyed archive in any plist format.
func Parse(data []byte) (*Archive, error) {
	var raw rawArchive
	if _, err := plist.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "decoding keyed archive")
	}
	if raw.Archiver != keyedArchiver {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Value(raw.Archiver).
			Detail("not an %s archive", keyedArchiver).
			Build()
	}
	if len(raw.Objects) == 0 {
		return nil, errors.InvalidInput(errors.PhaseLoad, "keyed archive has no object table")
	}
	return &Archive{Version: raw.Version, Top: raw.Top, Objects: raw.Objects}, nil
}

// UIDOf reports whether v is an object reference. XML plists spell a UID
// as a one-entry CF$UID dictionary.
func UIDOf(v any) (plist.UID, bool) {
	switch u := v.(type) {
	case plist.UID:
		return u, true
	case map[string]any:
		if len(u) != 1 {
			return 0, false
		}
		n, ok := Uint(u["CF$UID"])
		return plist.UID(n), ok
	}
	return 0, false
}

// Object returns the table entry for uid.
func (a *Archive) Object(uid plist.UID) (any, error) {
	if uint64(uid) >= uint64(len(a.Objects)) {
		return nil, errors.New(errors.PhaseLoad, errors.KindOutOfBounds).
			Value(uint64(uid)).
			Detail("UID past the %d-entry object table", len(a.Objects)).
			Build()
	}
	return a.Objects[uid], nil
}

// IsNull reports whether uid refers to the $null entry.
func (a *Archive) IsNull(uid plist.UID) bool {
	v, err := a.Object(uid)
	return err == nil && v == nullObject
}

// ClassName returns the archived class of an object entry: the
// $classname of the entry its $class UID points at.
func (a *Archive) ClassName(obj map[string]any) (string, error) {
	uid, ok := UIDOf(obj["$class"])
	if !ok {
		return "", errors.InvalidInput(errors.PhaseLoad, "archived object has no $class reference")
	}
	v, err := a.Object(uid)
	if err != nil {
		return "", err
	}
	info, ok := v.(map[string]any)
	if !ok {
		return "", errors.InvalidInput(errors.PhaseLoad, "$class does not refer to a class entry")
	}
	name, ok := info["$classname"].(string)
	if !ok || name == "" {
		return "", errors.InvalidInput(errors.PhaseLoad, "class entry has no $classname")
	}
	return name, nil
}

// Uint converts a decoded plist integer.
func Uint(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		return uint64(n), true
	case int:
		return uint64(n), true
	}
	return 0, false
}

// Int converts a decoded plist number or boolean to an integer.
func Int(v any) (int64, bool) {
	switch n := v.(type) {
	case uint64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
