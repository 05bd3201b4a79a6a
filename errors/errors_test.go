package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:    PhaseObjC,
				Kind:     KindUnimplemented,
				Path:     []string{"UIView", "layer"},
				Selector: "setFrame:",
				Addr:     0x2000,
				HasAddr:  true,
				Detail:   "class UIView does not respond",
			},
			contains: []string{"[objc]", "unimplemented_selector", "UIView.layer", "selector setFrame:", "address 0x00002000", "does not respond"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseMemory,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[memory]", "out_of_bounds"},
		},
		{
			name: "symbol is shown without underscore",
			err: &Error{
				Phase:  PhaseLink,
				Kind:   KindUnresolvedSymbol,
				Symbol: "_NSFoo",
			},
			contains: []string{"symbol NSFoo"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseMemory,
				Kind:   KindAllocation,
				Detail: "arena full",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[memory]", "allocation", "arena full", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	err := RefcountViolation(0x1000, "double free")

	if !errors.Is(err, &Error{Phase: PhaseObjC, Kind: KindRefcountViolation}) {
		t.Error("Is should match same phase and kind")
	}
	if errors.Is(err, &Error{Phase: PhaseMemory, Kind: KindRefcountViolation}) {
		t.Error("Is should not match different phase")
	}
	if errors.Is(err, &Error{Phase: PhaseObjC, Kind: KindUnimplemented}) {
		t.Error("Is should not match different kind")
	}

	wrapped := fmt.Errorf("send release: %w", err)
	if !errors.Is(wrapped, &Error{Phase: PhaseObjC, Kind: KindRefcountViolation}) {
		t.Error("errors.Is should see through fmt wrapping")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseBridge, KindEngine).
		Symbol("_objc_msgSend").
		Selector("init").
		Addr(0xdead).
		Value(42).
		Cause(cause).
		Detail("expected %d words, got %d", 2, 1).
		Build()

	if err.Symbol != "_objc_msgSend" || err.Selector != "init" {
		t.Errorf("Symbol=%q Selector=%q", err.Symbol, err.Selector)
	}
	if !err.HasAddr || err.Addr != 0xdead {
		t.Errorf("Addr = %#x (has %v)", err.Addr, err.HasAddr)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Cause chain does not include root")
	}
	if err.Detail != "expected 2 words, got 1" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil", nil, false},
		{"missing resource", MissingResource("nib", "/Main.nib", nil), false},
		{"wrapped missing resource", fmt.Errorf("load: %w", MissingResource("nib", "x", nil)), false},
		{"out of bounds", OutOfBounds(0x10000, 4, 0x10000), true},
		{"unresolved symbols", NewUnresolvedSymbolsError([]string{"_foo"}), true},
		{"plain error", errors.New("boom"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal = %v, want %v", got, tt.fatal)
			}
		})
	}
}

func TestIsKind(t *testing.T) {
	inner := Unimplemented("Counter", "reset", 0x3000)
	err := Wrap(PhaseBridge, KindEngine, inner, "guest call")
	if !IsKind(err, KindUnimplemented) {
		t.Error("IsKind should find the wrapped kind")
	}
	if kind, _ := KindOf(err); kind != KindEngine {
		t.Errorf("KindOf = %v, want outermost %v", kind, KindEngine)
	}
}

func TestUnresolvedSymbolsError(t *testing.T) {
	t.Run("grouped by framework", func(t *testing.T) {
		err := NewUnresolvedSymbolsError([]string{
			"Foundation#_NSFoo",
			"_CGBar",
			"Foundation#_NSBaz",
		})
		if len(err.Imports) != 3 {
			t.Fatalf("expected 3 imports, got %d", len(err.Imports))
		}
		if err.Imports[0].Framework != "Foundation" || err.Imports[0].Symbol != "_NSFoo" {
			t.Errorf("first import = %+v", err.Imports[0])
		}
		msg := err.Error()
		for _, want := range []string{"3 import(s)", "Foundation:", "(unknown):", "NSFoo", "CGBar"} {
			if !strings.Contains(msg, want) {
				t.Errorf("message %q missing %q", msg, want)
			}
		}
	})

	t.Run("empty", func(t *testing.T) {
		msg := NewUnresolvedSymbolsError(nil).Error()
		if !strings.Contains(msg, "no imports specified") {
			t.Errorf("got %s", msg)
		}
	})

	t.Run("errors.Is", func(t *testing.T) {
		err := NewUnresolvedSymbolsError([]string{"_x"})
		if !errors.Is(err, &UnresolvedSymbolsError{}) {
			t.Error("errors.Is should match UnresolvedSymbolsError")
		}
		if !errors.Is(err, &Error{Phase: PhaseLink, Kind: KindUnresolvedSymbol}) {
			t.Error("errors.Is should match the link/unresolved_symbol pair")
		}
	})
}
