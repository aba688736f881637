package cart

import (
	"context"
	"fmt"
	"strconv"

	"github.com/angelmondragon/cartsync/internal/cartline"
	"github.com/angelmondragon/cartsync/internal/events"
	"github.com/angelmondragon/cartsync/internal/remotecart"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
)

// AddProduct merges qty units of a product into the cart, persists, opens the
// panel and publishes a CountDelta. With the token gate open the server is
// told in the background; if that fails the added units are taken back out.
// Only validation errors are returned.
func (e *Engine) AddProduct(ctx context.Context, in ProductInput, qty int) error {
	qty = coerceQty(qty)
	line, err := in.line(qty)
	if err != nil {
		return err
	}
	ctx = e.logg.WithLine(ctx, string(line.Kind), line.ID)

	if err := e.optimisticAdd(ctx, line); err != nil {
		return err
	}
	e.metrics.IncMutation("add_product")

	if !e.gate.IsAuthenticated(ctx) {
		return nil
	}
	productID := line.ID
	e.spawnRemote(ctx, "add_line",
		func(ctx context.Context) error { return e.remote.AddLine(ctx, productID, qty) },
		func(ctx context.Context, _ error) { e.rollbackAdd(ctx, "add_product", line.Key(), qty) },
	)
	return nil
}

// AddBundle merges qty units of a bundle line. The server has no bundles, so
// the remote effect is one batch add of the constituent products scaled by
// qty; a failure takes the whole bundle increment back out.
func (e *Engine) AddBundle(ctx context.Context, in BundleInput, qty int) error {
	qty = coerceQty(qty)
	line, err := in.line(qty)
	if err != nil {
		return err
	}
	ctx = e.logg.WithLine(ctx, string(line.Kind), line.ID)

	if err := e.optimisticAdd(ctx, line); err != nil {
		return err
	}
	e.metrics.IncMutation("add_bundle")

	if len(line.Items) == 0 || !e.gate.IsAuthenticated(ctx) {
		return nil
	}
	batch := make([]remotecart.LineInput, 0, len(line.Items))
	for _, item := range line.Items {
		batch = append(batch, remotecart.LineInput{ProductID: item.ProductID, Qty: item.Qty * qty})
	}
	e.spawnRemote(ctx, "add_lines",
		func(ctx context.Context) error { return e.remote.AddLines(ctx, batch) },
		func(ctx context.Context, _ error) { e.rollbackAdd(ctx, "add_bundle", line.Key(), qty) },
	)
	return nil
}

// Add dispatches a fully formed line to AddProduct or AddBundle.
func (e *Engine) Add(ctx context.Context, line cartline.Line) error {
	switch line.Kind {
	case cartline.KindProduct:
		return e.AddProduct(ctx, ProductInput{ID: line.ID, Name: line.Name, Price: line.Price, Image: line.Image}, line.Qty)
	case cartline.KindBundle:
		return e.AddBundle(ctx, BundleInput{ID: line.ID, Title: line.Title, Price: line.Price, Items: line.Items}, line.Qty)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown line kind %q", line.Kind))
	}
}

// optimisticAdd rejects an add that would push the line past MaxQty, so a
// later rollback always subtracts exactly what was added.
func (e *Engine) optimisticAdd(ctx context.Context, line cartline.Line) error {
	e.mu.Lock()
	if idx := cartline.Find(e.lines, line.Key()); idx >= 0 && !cartline.Fits(e.lines[idx].Qty, line.Qty) {
		held := e.lines[idx].Qty
		e.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("line %s would exceed %d units", line.Key(), cartline.MaxQty)).
			WithDetails(map[string]string{"qty": "lte", "held": strconv.Itoa(held)})
	}
	next := cartline.Merge(e.lines, line)
	e.open = true
	e.commit(ctx, next, true, events.CountDelta{Qty: line.Qty})
	return nil
}

func (e *Engine) rollbackAdd(ctx context.Context, op string, key cartline.Key, qty int) {
	e.mu.Lock()
	next := cartline.Subtract(e.lines, key, qty)
	e.commit(ctx, next, true, events.CountAbsolute{Count: cartline.Count(next)})
	e.metrics.IncRollback(op)
	e.logg.Warn(e.logg.WithField(ctx, "rolled_back_qty", qty), "optimistic add rolled back")
}

// RemoveLine deletes a line outright. Product removals are mirrored on the
// server when the gate is open; a failure there triggers a full resync.
func (e *Engine) RemoveLine(ctx context.Context, kind cartline.Kind, id int64) error {
	if !kind.Valid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown line kind %q", kind))
	}
	if id <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "line id must be positive")
	}
	ctx = e.logg.WithLine(ctx, string(kind), id)

	e.mu.Lock()
	next := cartline.Remove(e.lines, cartline.Key{Kind: kind, ID: id})
	e.commit(ctx, next, true, events.CountAbsolute{Count: cartline.Count(next)})
	e.metrics.IncMutation("remove_line")

	if kind != cartline.KindProduct || !e.gate.IsAuthenticated(ctx) {
		return nil
	}
	e.spawnRemote(ctx, "remove_product",
		func(ctx context.Context) error { return e.remote.RemoveProduct(ctx, id) },
		e.resyncAfterFailure,
	)
	return nil
}

// Clear empties the cart locally and, with the gate open, on the server.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	e.commit(ctx, []cartline.Line{}, true,
		events.CountAbsolute{Count: 0},
		events.HydrateRequest{Origin: e.id},
	)
	e.metrics.IncMutation("clear")

	if !e.gate.IsAuthenticated(ctx) {
		return nil
	}
	e.spawnRemote(ctx, "clear", e.remote.Clear, e.resyncAfterFailure)
	return nil
}

// Replace overwrites the whole cart with lines. It never talks to the
// server; the next Sync decides what the server sees.
func (e *Engine) Replace(ctx context.Context, lines []cartline.Line) error {
	next := cartline.Clone(lines)
	for i := range next {
		next[i].Qty = coerceQty(next[i].Qty)
	}
	if err := cartline.ValidateAll(next); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cart lines")
	}

	e.mu.Lock()
	e.commit(ctx, next, true,
		events.HydrateRequest{Origin: e.id},
		events.CountAbsolute{Count: cartline.Count(next)},
	)
	e.metrics.IncMutation("replace")
	return nil
}

func (e *Engine) resyncAfterFailure(ctx context.Context, _ error) {
	resyncCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.Resync(resyncCtx); err != nil {
		e.logg.WarnErr(ctx, "resync after failed remote call", err)
	}
}
