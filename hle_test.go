package hle

import (
	"testing"

	"github.com/wippyai/hle-runtime/mem"
)

func TestArenaAddressSpace(t *testing.T) {
	arena, err := mem.New(1 << 16)
	if err != nil {
		t.Fatalf("mem.New: %v", err)
	}
	var as AddressSpace = arena

	p, err := as.Alloc(6, 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := as.WriteBytes(p, []byte("hello\x00")); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	s, err := as.CStrAt(p)
	if err != nil {
		t.Fatalf("CStrAt: %v", err)
	}
	if s != "hello" {
		t.Fatalf("CStrAt = %q, want %q", s, "hello")
	}
	if as.Size() != 1<<16 {
		t.Fatalf("Size = %d, want %d", as.Size(), 1<<16)
	}
	if err := as.Free(p); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if _, err := as.ReadBytes(mem.Null, 1); err == nil {
		t.Fatal("ReadBytes at null: expected error")
	}
}
