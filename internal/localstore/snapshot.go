package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/cartsync/internal/cartline"
	"github.com/angelmondragon/cartsync/internal/reconcile"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
)

const (
	SnapshotKey     = "cart.snapshot"
	SnapshotVersion = 3
)

// LegacyKeys are read, in order, only by Migrate and by Load while no
// canonical snapshot exists.
var LegacyKeys = []string{"cart.items", "cart", "cart_v2"}

type envelope struct {
	Version   int             `json:"version"`
	Lines     []cartline.Line `json:"lines"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Snapshots persists the cart under a single canonical key. Load, Save and
// Clear never fail: storage problems are logged and the cart carries on in
// memory.
type Snapshots struct {
	kv   KV
	logg *logger.Logger
	now  func() time.Time
}

func NewSnapshots(kv KV, logg *logger.Logger) (*Snapshots, error) {
	if kv == nil {
		return nil, errors.New("kv store is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Snapshots{kv: kv, logg: logg, now: time.Now}, nil
}

// KV exposes the underlying store, shared with the token gate.
func (s *Snapshots) KV() KV {
	return s.kv
}

// Load returns the stored cart, or an empty cart when nothing usable is stored.
func (s *Snapshots) Load(ctx context.Context) []cartline.Line {
	lines, err := s.read(ctx)
	if err != nil {
		s.logg.WarnErr(ctx, "cart snapshot unreadable, starting empty", err)
		return []cartline.Line{}
	}
	return lines
}

func (s *Snapshots) read(ctx context.Context) ([]cartline.Line, error) {
	raw, ok, err := s.kv.Get(ctx, SnapshotKey)
	if err != nil {
		return nil, err
	}
	if ok {
		return decodeEnvelope(raw)
	}
	// no canonical snapshot yet: tolerate a store that has not been migrated
	for _, key := range LegacyKeys {
		raw, ok, err := s.kv.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		if lines, err := reconcile.DecodeLocal([]byte(raw)); err == nil {
			return lines, nil
		}
	}
	return []cartline.Line{}, nil
}

// Save writes lines as the canonical snapshot.
func (s *Snapshots) Save(ctx context.Context, lines []cartline.Line) {
	if err := s.write(ctx, lines); err != nil {
		s.logg.WarnErr(s.logg.WithField(ctx, "lines", len(lines)), "cart snapshot write failed", err)
	}
}

// Clear stores an empty snapshot. An explicit empty envelope keeps stale
// legacy keys from resurfacing on the next Load.
func (s *Snapshots) Clear(ctx context.Context) {
	s.Save(ctx, nil)
}

func (s *Snapshots) write(ctx context.Context, lines []cartline.Line) error {
	payload, err := json.Marshal(envelope{
		Version:   SnapshotVersion,
		Lines:     cartline.Clone(lines),
		UpdatedAt: s.now().UTC(),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode cart snapshot")
	}
	return s.kv.Set(ctx, SnapshotKey, string(payload))
}

func decodeEnvelope(raw string) ([]cartline.Line, error) {
	var env struct {
		Version int             `json:"version"`
		Lines   json.RawMessage `json:"lines"`
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode snapshot envelope: %w", err)
	}
	if env.Version > SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d is newer than supported %d", env.Version, SnapshotVersion)
	}
	if len(env.Lines) == 0 || string(env.Lines) == "null" {
		return []cartline.Line{}, nil
	}
	return reconcile.DecodeLocal(env.Lines)
}

// MigrationResult describes what Migrate did.
type MigrationResult struct {
	Migrated  bool
	SourceKey string
	Lines     int
	Removed   []string
}

// Migrate moves a legacy multi-key cart to the canonical snapshot. It runs
// once per store: when a canonical snapshot exists it does nothing. The first
// legacy key holding a valid line array wins; all legacy keys are deleted
// after the canonical snapshot is written.
func (s *Snapshots) Migrate(ctx context.Context) (MigrationResult, error) {
	var result MigrationResult

	if _, ok, err := s.kv.Get(ctx, SnapshotKey); err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "check canonical snapshot")
	} else if ok {
		return result, nil
	}

	var (
		present []string
		chosen  []cartline.Line
	)
	for _, key := range LegacyKeys {
		raw, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			return result, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "read legacy key "+key)
		}
		if !ok {
			continue
		}
		present = append(present, key)
		if result.SourceKey != "" {
			continue
		}
		lines, err := reconcile.DecodeLocal([]byte(raw))
		if err != nil {
			s.logg.WarnErr(s.logg.WithField(ctx, "key", key), "legacy cart key unparsable, skipping", err)
			continue
		}
		result.SourceKey = key
		chosen = lines
	}
	if len(present) == 0 {
		return result, nil
	}

	if err := s.write(ctx, chosen); err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "write canonical snapshot")
	}
	if err := s.kv.Delete(ctx, present...); err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "delete legacy keys")
	}

	result.Migrated = true
	result.Lines = len(chosen)
	result.Removed = present
	return result, nil
}
