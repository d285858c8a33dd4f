package codec

import (
	"math"
	"strings"

	"marketfeed/internal/model"
	"marketfeed/pkg/exception"

	"github.com/yanun0323/errors"
)

// SymbolTable stores the trading pair <-> wire id mapping in a compact form.
// It is immutable once built; id 0 is reserved for unknown symbols.
type SymbolTable struct {
	names []string
	ids   map[string]uint16
}

// NewSymbolTable registers names in order, starting at id 1.
// Names are canonicalized, so "BTC-USDT" and "btcusdt" collide.
func NewSymbolTable(names ...string) (*SymbolTable, error) {
	if len(names) > math.MaxUint16 {
		return nil, exception.ErrSymbolTableFull
	}
	t := &SymbolTable{
		names: make([]string, 0, len(names)),
		ids:   make(map[string]uint16, len(names)),
	}
	for _, name := range names {
		canonical := CanonicalSymbol(name)
		if canonical == "" {
			return nil, exception.ErrSymbolEmpty
		}
		if _, ok := t.ids[canonical]; ok {
			return nil, errors.Wrap(exception.ErrSymbolDuplicated, "register symbol").With("symbol", name)
		}
		t.names = append(t.names, canonical)
		t.ids[canonical] = uint16(len(t.names))
	}
	return t, nil
}

// MustSymbolTable is NewSymbolTable for static tables; it panics on invalid input.
func MustSymbolTable(names ...string) *SymbolTable {
	t, err := NewSymbolTable(names...)
	if err != nil {
		panic(err)
	}
	return t
}

// ID returns the wire id of a symbol.
func (t *SymbolTable) ID(name string) (uint16, bool) {
	if t == nil {
		return 0, false
	}
	id, ok := t.ids[CanonicalSymbol(name)]
	return id, ok
}

// Name returns the canonical name for id, or model.UnknownSymbol.
func (t *SymbolTable) Name(id uint16) string {
	if t == nil || id == 0 || int(id) > len(t.names) {
		return model.UnknownSymbol
	}
	return t.names[id-1]
}

// Len returns the number of registered symbols.
func (t *SymbolTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.names)
}

// Names returns a copy of the registered canonical names ordered by id.
func (t *SymbolTable) Names() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// CanonicalSymbol upper-cases name and strips the separators exchanges use.
func CanonicalSymbol(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '-' || c == '/' || c == '_' || c == ' ':
			continue
		case c >= 'a' && c <= 'z':
			b.WriteByte(c - ('a' - 'A'))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
