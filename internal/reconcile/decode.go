package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/cartsync/internal/cartline"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
)

// DecodeRemote extracts raw rows from a remote cart listing: either a bare
// array or an object carrying a "results" or "items" array. Non-object array
// elements are skipped.
func DecodeRemote(body []byte) ([]map[string]any, error) {
	var doc any
	if err := decodeJSON(body, &doc); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeMalformed, err, "decode remote cart")
	}

	var list []any
	switch v := doc.(type) {
	case []any:
		list = v
	case map[string]any:
		for _, key := range []string{"results", "items"} {
			if arr, ok := v[key].([]any); ok {
				list = arr
				break
			}
		}
		if list == nil {
			return nil, pkgerrors.New(pkgerrors.CodeMalformed, "remote cart object has no results or items array")
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeMalformed, fmt.Sprintf("unexpected remote cart payload %T", doc))
	}

	return objects(list), nil
}

// DecodeLocal reads a stored cart array. Elements carrying a "kind" are read as
// typed lines, anything else goes through product normalization. Invalid
// elements are dropped and repeated identities are folded together. A value
// that is not a JSON array is an error.
func DecodeLocal(raw []byte) ([]cartline.Line, error) {
	var list []any
	if err := decodeJSON(raw, &list); err != nil {
		return nil, fmt.Errorf("decode stored cart: %w", err)
	}
	if list == nil {
		return nil, fmt.Errorf("decode stored cart: not an array")
	}

	lines := make([]cartline.Line, 0, len(list))
	for _, row := range objects(list) {
		line, ok := decodeStoredLine(row)
		if !ok {
			continue
		}
		lines = cartline.Merge(lines, line)
	}
	return lines, nil
}

func decodeStoredLine(row map[string]any) (cartline.Line, bool) {
	kind, hasKind := row["kind"].(string)
	if !hasKind {
		return Normalize(row)
	}
	switch cartline.Kind(kind) {
	case cartline.KindProduct:
		return Normalize(row)
	case cartline.KindBundle:
		return normalizeBundle(row)
	}
	return cartline.Line{}, false
}

func normalizeBundle(row map[string]any) (cartline.Line, bool) {
	id, ok := toInt64(row["id"])
	if !ok || id <= 0 {
		return cartline.Line{}, false
	}
	title := firstString(row["title"], row["name"])
	if title == "" {
		title = fmt.Sprintf("Bundle %d", id)
	}
	price, _ := firstPrice(row["price"])

	line := cartline.Line{
		Kind:  cartline.KindBundle,
		ID:    id,
		Title: title,
		Price: price,
		Qty:   resolveQty(row),
	}
	if list, ok := row["items"].([]any); ok {
		for _, item := range objects(list) {
			pid, ok := toInt64(firstNonNil(item["productId"], item["product_id"], item["id"]))
			if !ok || pid <= 0 {
				continue
			}
			qty := 1
			if q, ok := toFloat(firstNonNil(item["qty"], item["quantity"])); ok {
				qty = qtyFromFloat(q)
			}
			itemPrice, _ := firstPrice(item["price"])
			line.Items = append(line.Items, cartline.BundleItem{
				ProductID: pid,
				Name:      firstString(item["name"], item["title"]),
				Qty:       qty,
				Price:     itemPrice,
			})
		}
	}
	return line, true
}

func decodeJSON(raw []byte, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}

func objects(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, el := range list {
		if m, ok := el.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func firstNonNil(values ...any) any {
	for _, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		return v
	}
	return nil
}
