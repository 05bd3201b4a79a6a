package objc

import (
	"fmt"
	"io"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// ClassInfo describes a registered class in a snapshot.
type ClassInfo struct {
	Name         string   `cbor:"name"`
	Super        string   `cbor:"super,omitempty"`
	Host         bool     `cbor:"host"`
	Methods      []string `cbor:"methods,omitempty"`
	ClassMethods []string `cbor:"class_methods,omitempty"`
}

// ObjectInfo describes a live instance in a snapshot.
type ObjectInfo struct {
	ID     uint32 `cbor:"id"`
	Class  string `cbor:"class"`
	Refs   uint32 `cbor:"refs"`
	Static bool   `cbor:"static,omitempty"`
}

// Snapshot is a point-in-time view of the object model.
type Snapshot struct {
	Classes []ClassInfo  `cbor:"classes"`
	Objects []ObjectInfo `cbor:"objects"`
	// Pools holds the number of pending releases per pool, outermost first.
	Pools []int `cbor:"pools"`
}

// Snapshot captures classes in registration order and objects by address.
func (rt *Runtime) Snapshot() Snapshot {
	var s Snapshot
	for _, c := range rt.order {
		ci := ClassInfo{Name: c.name, Super: c.superName, Host: c.host}
		for _, sel := range c.methods.order {
			ci.Methods = append(ci.Methods, string(sel))
		}
		for _, sel := range c.cmethods.order {
			ci.ClassMethods = append(ci.ClassMethods, string(sel))
		}
		s.Classes = append(s.Classes, ci)
	}
	for id, obj := range rt.objects {
		s.Objects = append(s.Objects, ObjectInfo{
			ID:     uint32(id),
			Class:  obj.class.name,
			Refs:   obj.refs,
			Static: obj.static,
		})
	}
	sort.Slice(s.Objects, func(i, j int) bool { return s.Objects[i].ID < s.Objects[j].ID })
	s.Pools = make([]int, len(rt.pools))
	for i, p := range rt.pools {
		s.Pools[i] = len(p.ids)
	}
	return s
}

var snapshotEnc cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("objc: failed to create CBOR enc mode: %v", err))
	}
	snapshotEnc = em
}

// EncodeSnapshot writes s as canonical CBOR, so equal snapshots encode to
// equal bytes.
func EncodeSnapshot(w io.Writer, s Snapshot) error {
	return snapshotEnc.NewEncoder(w).Encode(s)
}

// DecodeSnapshot reads a snapshot written by EncodeSnapshot.
func DecodeSnapshot(r io.Reader) (Snapshot, error) {
	var s Snapshot
	err := cbor.NewDecoder(r).Decode(&s)
	return s, err
}
