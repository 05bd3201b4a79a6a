package errors

import (
	"fmt"
	"strings"
)

// Phase indicates which part of the substrate raised the error
type Phase string

const (
	PhaseMemory Phase = "memory" // guest arena access and allocation
	PhaseObjC   Phase = "objc"   // class registry, dispatch, refcounting
	PhaseLink   Phase = "link"   // import resolution
	PhaseBridge Phase = "bridge" // host/guest call translation
	PhaseLoad   Phase = "load"   // image and manifest loading
	PhaseHost   Phase = "host"   // framework glue
)

// Kind categorizes the error
type Kind string

const (
	KindOutOfBounds       Kind = "out_of_bounds"
	KindNullDereference   Kind = "null_dereference"
	KindOverflow          Kind = "overflow"
	KindAllocation        Kind = "allocation"
	KindUnresolvedSymbol  Kind = "unresolved_symbol"
	KindUnimplemented     Kind = "unimplemented_selector"
	KindRefcountViolation Kind = "refcount_violation"
	KindUnresolvedClass   Kind = "unresolved_class"
	KindClassCycle        Kind = "class_cycle"
	KindConflict          Kind = "conflict"
	KindMissingResource   Kind = "missing_resource"
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindTypeMismatch      Kind = "type_mismatch"
	KindEngine            Kind = "engine"
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Symbol   string
	Selector string
	Detail   string
	Path     []string
	Addr     uint32
	HasAddr  bool
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	var subject []string
	if e.Symbol != "" {
		subject = append(subject, "symbol "+displaySymbol(e.Symbol))
	}
	if e.Selector != "" {
		subject = append(subject, "selector "+e.Selector)
	}
	if e.HasAddr {
		subject = append(subject, fmt.Sprintf("address %#010x", e.Addr))
	}
	if len(subject) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(subject, ", "))
	}

	if e.Detail != "" {
		if len(subject) > 0 {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Symbol sets the symbol name involved
func (b *Builder) Symbol(name string) *Builder {
	b.err.Symbol = name
	return b
}

// Selector sets the selector involved
func (b *Builder) Selector(sel string) *Builder {
	b.err.Selector = sel
	return b
}

// Addr sets the guest address involved
func (b *Builder) Addr(addr uint32) *Builder {
	b.err.Addr = addr
	b.err.HasAddr = true
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// OutOfBounds creates a guest memory out of bounds error
func OutOfBounds(addr uint32, size uint64, arenaSize uint32) *Error {
	return &Error{
		Phase:   PhaseMemory,
		Kind:    KindOutOfBounds,
		Addr:    addr,
		HasAddr: true,
		Detail:  fmt.Sprintf("access of %d bytes exceeds arena of %d bytes", size, arenaSize),
		Value:   size,
	}
}

// NullDereference creates an error for an access inside the null page
func NullDereference(addr uint32) *Error {
	return &Error{
		Phase:   PhaseMemory,
		Kind:    KindNullDereference,
		Addr:    addr,
		HasAddr: true,
		Detail:  "access inside the null page",
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, value any, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Detail: fmt.Sprintf("value %v overflows %s", value, what),
		Value:  value,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(size, align uint32) *Error {
	return &Error{
		Phase:  PhaseMemory,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// Unimplemented creates an unimplemented selector error
func Unimplemented(class, selector string, receiver uint32) *Error {
	return &Error{
		Phase:    PhaseObjC,
		Kind:     KindUnimplemented,
		Selector: selector,
		Addr:     receiver,
		HasAddr:  true,
		Detail:   fmt.Sprintf("class %s does not respond", class),
	}
}

// RefcountViolation creates a reference counting violation error
func RefcountViolation(id uint32, detail string) *Error {
	return &Error{
		Phase:   PhaseObjC,
		Kind:    KindRefcountViolation,
		Addr:    id,
		HasAddr: true,
		Detail:  detail,
	}
}

// UnresolvedClass creates an error for a class name that never resolved
func UnresolvedClass(name, referrer string) *Error {
	detail := fmt.Sprintf("class %q is not registered", name)
	if referrer != "" {
		detail = fmt.Sprintf("superclass %q of %q is not registered", name, referrer)
	}
	return &Error{
		Phase:  PhaseObjC,
		Kind:   KindUnresolvedClass,
		Detail: detail,
		Value:  name,
	}
}

// ClassCycle creates a superclass cycle error
func ClassCycle(chain []string) *Error {
	return &Error{
		Phase:  PhaseObjC,
		Kind:   KindClassCycle,
		Path:   chain,
		Detail: "superclass chain loops",
	}
}

// Conflict creates a conflicting registration error
func Conflict(phase Phase, what, name, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindConflict,
		Detail: fmt.Sprintf("%s %q: %s", what, name, detail),
		Value:  name,
	}
}

// MissingResource creates the recoverable error for an absent optional resource
func MissingResource(what, path string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindMissingResource,
		Detail: fmt.Sprintf("%s %q not found", what, path),
		Cause:  cause,
		Value:  path,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Engine wraps a failure reported by the execution engine
func Engine(addr uint32, cause error) *Error {
	return &Error{
		Phase:   PhaseBridge,
		Kind:    KindEngine,
		Addr:    addr,
		HasAddr: true,
		Detail:  "execution engine failed",
		Cause:   cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates an image loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// IsFatal reports whether err leaves the object graph untrustworthy.
// Only a missing optional resource is recoverable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	kind, ok := KindOf(err)
	return !ok || kind != KindMissingResource
}

// KindOf returns the kind of the outermost structured error in err's chain
func KindOf(err error) (Kind, bool) {
	for err != nil {
		switch e := err.(type) {
		case *Error:
			return e.Kind, true
		case *UnresolvedSymbolsError:
			return KindUnresolvedSymbol, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "", false
		}
		err = u.Unwrap()
	}
	return "", false
}

// IsKind reports whether any error in err's chain has the given kind
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		if _, ok := err.(*UnresolvedSymbolsError); ok && kind == KindUnresolvedSymbol {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// UnresolvedImport represents a single import with no matching export
type UnresolvedImport struct {
	Framework string // owning framework if known, "" otherwise
	Symbol    string // e.g., "_NSFooBar"
}

// UnresolvedSymbolsError is returned when strict linking finds imports with no export
type UnresolvedSymbolsError struct {
	Imports []UnresolvedImport
}

// NewUnresolvedSymbolsError creates an error from a list of "framework#symbol" or bare symbol strings
func NewUnresolvedSymbolsError(imports []string) *UnresolvedSymbolsError {
	result := &UnresolvedSymbolsError{
		Imports: make([]UnresolvedImport, 0, len(imports)),
	}
	for _, imp := range imports {
		fw, sym := parseImportKey(imp)
		result.Imports = append(result.Imports, UnresolvedImport{
			Framework: fw,
			Symbol:    sym,
		})
	}
	return result
}

func parseImportKey(key string) (framework, symbol string) {
	fw, sym, found := strings.Cut(key, "#")
	if found {
		return fw, sym
	}
	return "", key
}

// displaySymbol strips the C-level underscore prefix guest symbols carry
func displaySymbol(name string) string {
	if len(name) > 1 && name[0] == '_' && name[1] != '_' {
		return name[1:]
	}
	return name
}

func (e *UnresolvedSymbolsError) Error() string {
	if len(e.Imports) == 0 {
		return "[link] unresolved_symbol: no imports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("[link] unresolved_symbol: %d import(s) have no export:\n", len(e.Imports)))

	// Group by framework for cleaner output
	byFW := make(map[string][]string)
	var fwOrder []string
	for _, imp := range e.Imports {
		fw := imp.Framework
		if fw == "" {
			fw = "(unknown)"
		}
		if _, exists := byFW[fw]; !exists {
			fwOrder = append(fwOrder, fw)
		}
		byFW[fw] = append(byFW[fw], displaySymbol(imp.Symbol))
	}

	for _, fw := range fwOrder {
		b.WriteString("\n  ")
		b.WriteString(fw)
		b.WriteString(":\n")
		for _, sym := range byFW[fw] {
			b.WriteString("    - ")
			b.WriteString(sym)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *UnresolvedSymbolsError) Is(target error) bool {
	if _, ok := target.(*UnresolvedSymbolsError); ok {
		return true
	}
	if t, ok := target.(*Error); ok {
		return t.Phase == PhaseLink && t.Kind == KindUnresolvedSymbol
	}
	return false
}
