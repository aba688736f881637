package cart

import (
	"context"

	"github.com/angelmondragon/cartsync/internal/cartline"
	"github.com/angelmondragon/cartsync/internal/events"
	"github.com/angelmondragon/cartsync/internal/reconcile"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
)

// SyncSource says which side's cart survived a Sync.
type SyncSource string

const (
	SyncSkipped SyncSource = "skipped"
	SyncServer  SyncSource = "server"
	SyncLocal   SyncSource = "local"
)

// SyncResult describes what Sync did.
type SyncResult struct {
	Source SyncSource `json:"source"`
	// Merged is set when local product lines were pushed to an empty server cart.
	Merged bool `json:"merged"`
	// Attempted counts the add-line calls made by the merge pass.
	Attempted int `json:"attempted"`
	// MergeErr collects add-line failures; the local cart is kept regardless.
	MergeErr error `json:"-"`
}

// Resync replaces the local cart with the server's. Concurrent calls share a
// single remote read.
func (e *Engine) Resync(ctx context.Context) error {
	if !e.gate.IsAuthenticated(ctx) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "resync requires an access token")
	}
	_, err, shared := e.resyncs.Do("resync", func() (any, error) {
		rows, err := e.remote.List(ctx)
		e.metrics.IncResync(err)
		if err != nil {
			return nil, err
		}
		e.replaceWithServer(ctx, reconcile.NormalizeAll(rows))
		return nil, nil
	})
	if shared {
		e.logg.Debug(ctx, "resync shared with concurrent caller")
	}
	return err
}

// Sync is run when the token gate opens. A non-empty server cart replaces the
// local one. An empty server cart receives the local product lines, once per
// engine lifetime, and the local cart is kept as it is.
func (e *Engine) Sync(ctx context.Context) (SyncResult, error) {
	if !e.gate.IsAuthenticated(ctx) {
		return SyncResult{Source: SyncSkipped}, nil
	}
	rows, err := e.remote.List(ctx)
	if err != nil {
		e.logg.WarnErr(ctx, "cart sync: remote list failed; keeping local cart", err)
		return SyncResult{}, err
	}
	server := reconcile.NormalizeAll(rows)
	if len(server) > 0 {
		e.replaceWithServer(ctx, server)
		return SyncResult{Source: SyncServer}, nil
	}

	e.mu.Lock()
	local := cartline.Clone(e.lines)
	runMerge := !e.merged && hasProducts(local)
	if runMerge {
		e.merged = true
	}
	e.mu.Unlock()

	if !runMerge {
		return SyncResult{Source: SyncLocal}, nil
	}
	attempted, mergeErr := reconcile.MergeLocalIntoEmptyServerCart(ctx, e.remote, local)
	e.metrics.IncMerge(mergeErr)
	if mergeErr != nil {
		e.logg.WarnErr(e.logg.WithField(ctx, "attempted", attempted), "cart merge finished with failures", mergeErr)
	} else {
		e.logg.Info(e.logg.WithField(ctx, "attempted", attempted), "local cart merged into empty server cart")
	}
	return SyncResult{Source: SyncLocal, Merged: true, Attempted: attempted, MergeErr: mergeErr}, nil
}

// Reload re-reads the snapshot store, typically because another writer
// changed it.
func (e *Engine) Reload(ctx context.Context) {
	loaded := e.store.Load(ctx)
	e.mu.Lock()
	e.commit(ctx, cartline.Clone(loaded), false, events.CountAbsolute{Count: cartline.Count(loaded)})
}

func (e *Engine) replaceWithServer(ctx context.Context, server []cartline.Line) {
	e.mu.Lock()
	e.commit(ctx, server, true,
		events.CountAbsolute{Count: cartline.Count(server)},
		events.HydrateRequest{Origin: e.id},
	)
}

func hasProducts(lines []cartline.Line) bool {
	for _, l := range lines {
		if l.Kind == cartline.KindProduct {
			return true
		}
	}
	return false
}
