package postgresadapter

import (
	"context"

	"gorm.io/gorm"
)

// AutoMigrate creates or updates every ledger table.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(
		&documentModel{},
		&idempotencyModel{},
		&auditEntryModel{},
		&auditHeadModel{},
		&outboxModel{},
		&receiptModel{},
		&jobModel{},
		&readViewModel{},
		&notificationModel{},
	)
}
