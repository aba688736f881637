package localstore

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/cartsync/internal/repo"
	"github.com/angelmondragon/cartsync/pkg/db"
	"github.com/angelmondragon/cartsync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore keeps entries in the storage_entries table (see pkg/migrate).
type SQLStore struct {
	repo.Base
	client *db.Client
	now    func() time.Time
}

func NewSQLStore(client *db.Client) (*SQLStore, error) {
	if client == nil || client.DB() == nil {
		return nil, errors.New("db client is required")
	}
	return &SQLStore{Base: repo.NewBase(client.DB()), client: client, now: time.Now}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var entry models.StorageEntry
	err := s.DB(ctx).
		Where("entry_key = ?", key).
		Take(&entry).Error
	if db.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "read storage entry")
	}
	return entry.Value, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	entry := models.StorageEntry{Key: key, Value: value, UpdatedAt: s.now().UTC()}
	err := s.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entry_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&entry).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "write storage entry")
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := s.Tx(ctx, func(tx *gorm.DB) error {
		return tx.Where("entry_key IN ?", keys).Delete(&models.StorageEntry{}).Error
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "delete storage entries")
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
