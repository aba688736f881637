package cart

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/cartsync/api/responses"
	"github.com/angelmondragon/cartsync/api/validators"
	cartsvc "github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/cartline"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
)

// Engine is the cart surface exposed over HTTP.
type Engine interface {
	Items() []cartline.Line
	IsOpen() bool
	Open()
	Dismiss()
	AddProduct(ctx context.Context, in cartsvc.ProductInput, qty int) error
	AddBundle(ctx context.Context, in cartsvc.BundleInput, qty int) error
	RemoveLine(ctx context.Context, kind cartline.Kind, id int64) error
	Clear(ctx context.Context) error
	Replace(ctx context.Context, lines []cartline.Line) error
	Sync(ctx context.Context) (cartsvc.SyncResult, error)
	Resync(ctx context.Context) error
}

func unavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart engine unavailable"))
}

// CartFetch returns the current lines with count, total and panel state.
func CartFetch(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			unavailable(w, r, logg)
			return
		}
		responses.WriteSuccess(w, newCartView(engine))
	}
}

// CartAddProduct adds a product line. The server is updated in the background.
func CartAddProduct(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			unavailable(w, r, logg)
			return
		}

		var payload addProductRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := engine.AddProduct(r.Context(), payload.toInput(), payload.Qty); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartView(engine))
	}
}

func CartAddBundle(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			unavailable(w, r, logg)
			return
		}

		var payload addBundleRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := engine.AddBundle(r.Context(), payload.toInput(), payload.Qty); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartView(engine))
	}
}

// CartRemoveLine deletes /lines/{kind}/{id}.
func CartRemoveLine(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			unavailable(w, r, logg)
			return
		}

		id, err := validators.ParseURLInt64(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		kind := cartline.Kind(validators.SanitizeString(chi.URLParam(r, "kind"), 16))

		if err := engine.RemoveLine(r.Context(), kind, id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartView(engine))
	}
}

func CartClear(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			unavailable(w, r, logg)
			return
		}
		if err := engine.Clear(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartView(engine))
	}
}

// CartReplace overwrites the whole cart, as used by the reorder flow.
func CartReplace(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			unavailable(w, r, logg)
			return
		}

		var payload replaceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := engine.Replace(r.Context(), payload.toLines()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartView(engine))
	}
}

// CartSync runs the login-time reconciliation with the server cart.
func CartSync(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			unavailable(w, r, logg)
			return
		}

		res, err := engine.Sync(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSyncView(engine, res))
	}
}

// CartResync replaces the local cart with the server's.
func CartResync(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			unavailable(w, r, logg)
			return
		}
		if err := engine.Resync(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartView(engine))
	}
}

// CartPanel opens or dismisses the cart panel hint.
func CartPanel(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			unavailable(w, r, logg)
			return
		}

		var payload panelRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if *payload.Open {
			engine.Open()
		} else {
			engine.Dismiss()
		}
		responses.WriteSuccess(w, newCartView(engine))
	}
}
