package cartline

import (
	"fmt"
	"math"
	"slices"
)

const (
	// MaxQty is the largest quantity a single line may hold.
	MaxQty = 9999
	// MaxPrice caps a unit price so Subtotal stays inside int64.
	MaxPrice int64 = 1_000_000_000_000
)

// Kind discriminates the two line variants.
type Kind string

const (
	KindProduct Kind = "product"
	KindBundle  Kind = "bundle"
)

// Valid reports whether k is a known line kind.
func (k Kind) Valid() bool {
	return k == KindProduct || k == KindBundle
}

// BundleItem is one constituent product of a bundle line.
type BundleItem struct {
	ProductID int64  `json:"productId" validate:"gt=0"`
	Name      string `json:"name"`
	Qty       int    `json:"qty" validate:"gte=1,lte=9999"`
	Price     int64  `json:"price" validate:"gte=0,lte=1000000000000"`
}

// Line is one cart entry. Product lines use Name and Image; bundle lines use
// Title and Items. Price is in integer currency units.
type Line struct {
	Kind  Kind         `json:"kind"`
	ID    int64        `json:"id"`
	Name  string       `json:"name,omitempty"`
	Title string       `json:"title,omitempty"`
	Price int64        `json:"price"`
	Image string       `json:"image,omitempty"`
	Qty   int          `json:"qty"`
	Items []BundleItem `json:"items,omitempty"`
}

// Key identifies a line within a cart.
type Key struct {
	Kind Kind
	ID   int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

func (l Line) Key() Key {
	return Key{Kind: l.Kind, ID: l.ID}
}

// Label is the display name regardless of variant.
func (l Line) Label() string {
	if l.Kind == KindBundle {
		return l.Title
	}
	return l.Name
}

// Subtotal is price × qty.
func (l Line) Subtotal() int64 {
	return l.Price * int64(l.Qty)
}

// Validate checks the structure of a single line.
func Validate(l Line) error {
	if !l.Kind.Valid() {
		return fmt.Errorf("unknown line kind %q", l.Kind)
	}
	if l.ID <= 0 {
		return fmt.Errorf("line id must be positive, got %d", l.ID)
	}
	if l.Qty < 1 {
		return fmt.Errorf("line %s qty must be at least 1, got %d", l.Key(), l.Qty)
	}
	if l.Qty > MaxQty {
		return fmt.Errorf("line %s qty must be at most %d, got %d", l.Key(), MaxQty, l.Qty)
	}
	if l.Price < 0 || l.Price > MaxPrice {
		return fmt.Errorf("line %s price must be between 0 and %d", l.Key(), MaxPrice)
	}
	return nil
}

// ValidateAll checks every line and rejects duplicate keys.
func ValidateAll(lines []Line) error {
	seen := make(map[Key]struct{}, len(lines))
	for _, l := range lines {
		if err := Validate(l); err != nil {
			return err
		}
		if _, dup := seen[l.Key()]; dup {
			return fmt.Errorf("duplicate line %s", l.Key())
		}
		seen[l.Key()] = struct{}{}
	}
	return nil
}

func Count(lines []Line) int {
	n := 0
	for _, l := range lines {
		n += l.Qty
	}
	return n
}

// Total saturates at math.MaxInt64.
func Total(lines []Line) int64 {
	var total int64
	for _, l := range lines {
		sub := l.Subtotal()
		if sub > math.MaxInt64-total {
			return math.MaxInt64
		}
		total += sub
	}
	return total
}

// ClampQty maps a requested quantity into [1, MaxQty].
func ClampQty(qty int) int {
	return min(max(1, qty), MaxQty)
}

// Fits reports whether n more units can be added to a line holding qty.
func Fits(qty, n int) bool {
	return n <= MaxQty-qty
}

func addQty(qty, n int) int {
	if !Fits(qty, n) {
		return MaxQty
	}
	return qty + n
}

// Clone deep-copies lines, bundle items included. A nil input yields an empty,
// non-nil slice so callers can serialize it as [].
func Clone(lines []Line) []Line {
	out := make([]Line, len(lines))
	for i, l := range lines {
		l.Items = slices.Clone(l.Items)
		out[i] = l
	}
	return out
}

// Find returns the index of the line with key, or -1.
func Find(lines []Line, key Key) int {
	return slices.IndexFunc(lines, func(l Line) bool { return l.Key() == key })
}

// Merge adds l to lines: an existing line with the same key gains l.Qty,
// otherwise l is appended. Quantities saturate at MaxQty. The input slice is
// not modified.
func Merge(lines []Line, l Line) []Line {
	out := Clone(lines)
	if idx := Find(out, l.Key()); idx >= 0 {
		out[idx].Qty = addQty(out[idx].Qty, l.Qty)
		return out
	}
	l.Qty = min(l.Qty, MaxQty)
	l.Items = slices.Clone(l.Items)
	return append(out, l)
}

// Remove deletes the line with key. It is the only helper that removes a line
// outright regardless of quantity.
func Remove(lines []Line, key Key) []Line {
	out := Clone(lines)
	if idx := Find(out, key); idx >= 0 {
		return slices.Delete(out, idx, idx+1)
	}
	return out
}

// Increment raises qty by n (n < 1 is treated as 1), saturating at MaxQty.
func Increment(lines []Line, key Key, n int) []Line {
	out := Clone(lines)
	if idx := Find(out, key); idx >= 0 {
		out[idx].Qty = addQty(out[idx].Qty, max(1, n))
	}
	return out
}

// Decrement lowers qty by n but never below 1; the line is kept.
func Decrement(lines []Line, key Key, n int) []Line {
	out := Clone(lines)
	if idx := Find(out, key); idx >= 0 {
		out[idx].Qty = max(1, out[idx].Qty-max(1, n))
	}
	return out
}

// SetQty overwrites qty; qty <= 0 removes the line (manual edit).
func SetQty(lines []Line, key Key, qty int) []Line {
	if qty <= 0 {
		return Remove(lines, key)
	}
	out := Clone(lines)
	if idx := Find(out, key); idx >= 0 {
		out[idx].Qty = min(qty, MaxQty)
	}
	return out
}

// Subtract reverses an earlier add of n units: qty drops by n and the line is
// removed once it reaches zero.
func Subtract(lines []Line, key Key, n int) []Line {
	idx := Find(lines, key)
	if idx < 0 {
		return Clone(lines)
	}
	return SetQty(lines, key, lines[idx].Qty-n)
}
