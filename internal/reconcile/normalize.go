package reconcile

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/angelmondragon/cartsync/internal/cartline"
	"github.com/shopspring/decimal"
)

// Normalize resolves one heterogeneous row (remote cart row or legacy stored
// line) into a product line. Every field is resolved first-match-wins. Rows
// without a positive identity are dropped (ok=false).
//
//	identity: product_id, product.id, product (numeric), id
//	name:     name, title, product.name, product.title, "Product <id>"
//	price:    price, unit_price, product.price
//	image:    image, thumbnail, images[0], product.image, product.images[0]
//	qty:      qty, quantity, count (default and floor 1)
func Normalize(raw map[string]any) (cartline.Line, bool) {
	if raw == nil {
		return cartline.Line{}, false
	}
	nested, _ := raw["product"].(map[string]any)

	id, ok := resolveID(raw, nested)
	if !ok {
		return cartline.Line{}, false
	}

	name := firstString(raw["name"], raw["title"], field(nested, "name"), field(nested, "title"))
	if name == "" {
		name = fmt.Sprintf("Product %d", id)
	}

	price, _ := firstPrice(raw["price"], raw["unit_price"], field(nested, "price"))

	return cartline.Line{
		Kind:  cartline.KindProduct,
		ID:    id,
		Name:  name,
		Price: price,
		Image: firstString(raw["image"], raw["thumbnail"], firstImage(raw["images"]), field(nested, "image"), firstImage(field(nested, "images"))),
		Qty:   resolveQty(raw),
	}, true
}

// NormalizeAll normalizes rows, dropping unresolvable ones and folding rows
// that share an identity into one line.
func NormalizeAll(rows []map[string]any) []cartline.Line {
	lines := make([]cartline.Line, 0, len(rows))
	for _, row := range rows {
		line, ok := Normalize(row)
		if !ok {
			continue
		}
		lines = cartline.Merge(lines, line)
	}
	return lines
}

// RemoteLineID extracts the server-assigned row identity. A bare "id" only
// counts when the row also references its product separately, otherwise it is
// the product id itself.
func RemoteLineID(raw map[string]any) (int64, bool) {
	for _, key := range []string{"line_id", "cart_item_id", "pk"} {
		if id, ok := toInt64(raw[key]); ok && id > 0 {
			return id, true
		}
	}
	_, hasProductID := raw["product_id"]
	_, hasProduct := raw["product"]
	if hasProductID || hasProduct {
		if id, ok := toInt64(raw["id"]); ok && id > 0 {
			return id, true
		}
	}
	return 0, false
}

// ProductIDOf returns the identity Normalize would resolve for raw.
func ProductIDOf(raw map[string]any) (int64, bool) {
	nested, _ := raw["product"].(map[string]any)
	return resolveID(raw, nested)
}

// resolveID tries product references before "id": server cart rows carry
// their own primary key in "id" and the product under "product".
func resolveID(raw, nested map[string]any) (int64, bool) {
	candidates := []any{raw["product_id"], field(nested, "id")}
	if nested == nil {
		candidates = append(candidates, raw["product"])
	}
	candidates = append(candidates, raw["id"])
	for _, c := range candidates {
		if id, ok := toInt64(c); ok && id > 0 {
			return id, true
		}
	}
	return 0, false
}

func resolveQty(raw map[string]any) int {
	for _, key := range []string{"qty", "quantity", "count"} {
		if v, ok := toFloat(raw[key]); ok {
			return qtyFromFloat(v)
		}
	}
	return 1
}

// qtyFromFloat rounds v and clamps it into [1, cartline.MaxQty] before the
// int conversion so oversized values cannot wrap.
func qtyFromFloat(v float64) int {
	q := math.Round(v)
	switch {
	case math.IsNaN(q) || q < 1:
		return 1
	case q > cartline.MaxQty:
		return cartline.MaxQty
	}
	return int(q)
}

func field(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

func firstString(values ...any) string {
	for _, v := range values {
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstImage(v any) any {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	switch first := list[0].(type) {
	case string:
		return first
	case map[string]any:
		return firstString(first["image"], first["url"], first["src"])
	}
	return nil
}

func firstPrice(values ...any) (int64, bool) {
	for _, v := range values {
		if d, ok := toDecimal(v); ok {
			d = d.Round(0)
			switch {
			case d.Sign() < 0:
				return 0, true
			case d.GreaterThan(decimal.NewFromInt(cartline.MaxPrice)):
				return cartline.MaxPrice, true
			}
			return d.IntPart(), true
		}
	}
	return 0, false
}

// toDecimal accepts JSON numbers and decimal strings such as "15000.00".
func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(n, ",", ""))
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	}
	return decimal.Zero, false
}

func toFloat(v any) (float64, bool) {
	d, ok := toDecimal(v)
	if !ok {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// toInt64 only accepts integral values.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return id, err == nil
	case nil, bool, map[string]any, []any:
		return 0, false
	}
	d, ok := toDecimal(v)
	if !ok || !d.Equal(d.Truncate(0)) {
		return 0, false
	}
	return d.IntPart(), true
}
