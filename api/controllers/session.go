package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/cartsync/api/responses"
	"github.com/angelmondragon/cartsync/api/validators"
	cartsvc "github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
)

type credentialStore interface {
	IsAuthenticated(ctx context.Context) bool
	SetCredentials(ctx context.Context, access, refresh string) error
	ClearCredentials(ctx context.Context) error
}

type cartSyncer interface {
	Sync(ctx context.Context) (cartsvc.SyncResult, error)
}

type sessionRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	Authenticated bool         `json:"authenticated"`
	Sync          *sessionSync `json:"sync,omitempty"`
}

type sessionSync struct {
	Source    cartsvc.SyncSource `json:"source"`
	Merged    bool               `json:"merged"`
	Attempted int                `json:"attempted"`
	Error     string             `json:"error,omitempty"`
}

// SessionStatus reports whether the stored credentials open the token gate.
func SessionStatus(store credentialStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeInternal, "credential store unavailable"))
			return
		}
		responses.WriteSuccess(w, sessionResponse{Authenticated: store.IsAuthenticated(r.Context())})
	}
}

// SessionStart stores the storefront's credentials and runs the login-time
// cart sync. The access token comes from the body or, failing that, the
// Authorization header. A sync failure does not undo the login.
func SessionStart(store credentialStore, syncer cartSyncer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil || syncer == nil {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeInternal, "session handling unavailable"))
			return
		}

		var payload sessionRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		if payload.AccessToken == "" {
			token, err := validators.BearerToken(r)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			payload.AccessToken = token
		}

		ctx := r.Context()
		if err := store.SetCredentials(ctx, payload.AccessToken, payload.RefreshToken); err != nil {
			responses.WriteError(ctx, logg, w, errors.Wrap(errors.CodeStorage, err, "store credentials"))
			return
		}
		if !store.IsAuthenticated(ctx) {
			if err := store.ClearCredentials(ctx); err != nil && logg != nil {
				logg.WarnErr(ctx, "clear rejected credentials", err)
			}
			responses.WriteError(ctx, logg, w, errors.New(errors.CodeUnauthorized, "token is not a usable access token"))
			return
		}

		res, err := syncer.Sync(ctx)
		out := &sessionSync{Source: res.Source, Merged: res.Merged, Attempted: res.Attempted}
		switch {
		case err != nil:
			if logg != nil {
				logg.WarnErr(ctx, "login cart sync failed", err)
			}
			out.Error = err.Error()
		case res.MergeErr != nil:
			out.Error = res.MergeErr.Error()
		}

		responses.WriteSuccess(w, sessionResponse{Authenticated: true, Sync: out})
	}
}

// SessionEnd forgets every stored credential. The local cart is kept.
func SessionEnd(store credentialStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeInternal, "credential store unavailable"))
			return
		}
		if err := store.ClearCredentials(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, errors.Wrap(errors.CodeStorage, err, "clear credentials"))
			return
		}
		responses.WriteSuccess(w, sessionResponse{Authenticated: false})
	}
}
