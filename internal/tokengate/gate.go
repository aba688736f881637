package tokengate

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/cartsync/internal/localstore"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"go.uber.org/multierr"
)

// AccessKeys are checked in order for a usable access credential.
var AccessKeys = []string{"access", "access_token", "auth_token", "token"}

// RefreshKeys hold refresh credentials; they are never used for cart calls.
var RefreshKeys = []string{"refresh", "refresh_token"}

// Gate answers "is this session authenticated" from the local store.
type Gate struct {
	kv         localstore.KV
	classifier Classifier
	logg       *logger.Logger
}

func New(kv localstore.KV, classifier Classifier, logg *logger.Logger) (*Gate, error) {
	if kv == nil {
		return nil, errors.New("kv store is required")
	}
	if classifier == nil {
		classifier = AnyToken
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Gate{kv: kv, classifier: classifier, logg: logg}, nil
}

// IsAuthenticated reports whether a usable access credential is stored. It has
// no side effects; a store read failure counts as "not authenticated".
func (g *Gate) IsAuthenticated(ctx context.Context) bool {
	_, ok := g.AccessToken(ctx)
	return ok
}

// AccessToken returns the first stored value, with any "Bearer " prefix
// removed, that the classifier accepts as an access credential.
func (g *Gate) AccessToken(ctx context.Context) (string, bool) {
	for _, key := range AccessKeys {
		raw, ok, err := g.kv.Get(ctx, key)
		if err != nil {
			g.logg.Debug(g.logg.WithField(ctx, "key", key), "credential read failed: "+err.Error())
			continue
		}
		if !ok {
			continue
		}
		token := StripBearer(raw)
		if token != "" && g.classifier.IsAccessToken(token) {
			return token, true
		}
	}
	return "", false
}

// SetCredentials stores the access token under the keys older readers look at,
// plus the refresh token when given.
func (g *Gate) SetCredentials(ctx context.Context, access, refresh string) error {
	access = StripBearer(access)
	if access == "" {
		return errors.New("access token is required")
	}
	var errs error
	for _, key := range []string{"access", "access_token", "token"} {
		errs = multierr.Append(errs, g.kv.Set(ctx, key, access))
	}
	if refresh = StripBearer(refresh); refresh != "" {
		errs = multierr.Append(errs, g.kv.Set(ctx, "refresh", refresh))
	}
	return errs
}

// ClearCredentials removes every access and refresh key.
func (g *Gate) ClearCredentials(ctx context.Context) error {
	keys := append(append([]string{}, AccessKeys...), RefreshKeys...)
	return g.kv.Delete(ctx, keys...)
}

// StripBearer trims whitespace and a leading "Bearer " scheme.
func StripBearer(value string) string {
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, "bearer") {
		return ""
	}
	if len(value) >= 7 && strings.EqualFold(value[:7], "bearer ") {
		value = strings.TrimSpace(value[7:])
	}
	return value
}
