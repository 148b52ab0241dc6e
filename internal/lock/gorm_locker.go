package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ticketflow/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var released = time.Unix(0, 0).UTC()

// GormLocker keeps leases in the automation_locks table.
type GormLocker struct {
	db     *gorm.DB
	holder string
	ttl    time.Duration
	now    func() time.Time
}

type GormOption func(*GormLocker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) GormOption {
	return func(l *GormLocker) { l.now = now }
}

// WithHolderID overrides the generated holder id.
func WithHolderID(id string) GormOption {
	return func(l *GormLocker) { l.holder = id }
}

func NewGormLocker(db *gorm.DB, ttl time.Duration, opts ...GormOption) *GormLocker {
	l := &GormLocker{db: db, holder: NewHolderID(), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *GormLocker) HolderID() string { return l.holder }

// Acquire upserts the lock row, overwriting it only when the lease has
// expired or is already ours, then reads it back to see who won.
func (l *GormLocker) Acquire(ctx context.Context, key string) (bool, error) {
	now := l.now().UTC()
	row := models.AutomationLock{
		Key:            key,
		HolderID:       l.holder,
		LeaseExpiresAt: now.Add(l.ttl),
		UpdatedAt:      now,
	}

	table := clause.Table{Name: "automation_locks"}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"holder_id":        l.holder,
			"lease_expires_at": row.LeaseExpiresAt,
			"updated_at":       now,
		}),
		Where: clause.Where{Exprs: []clause.Expression{clause.Or(
			clause.Lte{Column: clause.Column{Table: table.Name, Name: "lease_expires_at"}, Value: now},
			clause.Eq{Column: clause.Column{Table: table.Name, Name: "holder_id"}, Value: l.holder},
		)}},
	}).Create(&row).Error
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("upsert lock %s: %w", key, err)
	}

	var current models.AutomationLock
	if err := l.db.WithContext(ctx).
		Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: key}).
		Take(&current).Error; err != nil {
		return false, fmt.Errorf("read lock %s: %w", key, err)
	}
	return current.HolderID == l.holder, nil
}

// Release expires our lease; a lease held by someone else is left alone.
func (l *GormLocker) Release(ctx context.Context, key string) error {
	err := l.db.WithContext(ctx).
		Model(&models.AutomationLock{}).
		Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: key}).
		Where("holder_id = ?", l.holder).
		Updates(map[string]interface{}{
			"lease_expires_at": released,
			"updated_at":       l.now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint failed")
}
