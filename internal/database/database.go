package database

import (
	"errors"

	"rectrade-backend/internal/domain"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open opens a GORM DB from DSN. PreferSimpleProtocol disables prepared
// statement caching to avoid 42P05 ("prepared statement already exists")
// behind connection poolers (PgBouncer, Supabase, Render).
func Open(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
}

// AutoMigrate runs migrations for the engine's models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Account{},
		&domain.Holding{},
		&domain.Order{},
		&domain.Transaction{},
		&domain.AuditRecord{},
	)
}

// EnsurePlatformAccount creates the fee revenue account when missing.
func EnsurePlatformAccount(db *gorm.DB, id uuid.UUID) error {
	var acct domain.Account
	err := db.Where("account_id = ?", id).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Create(&domain.Account{AccountID: id}).Error
	}
	return err
}
