package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/terraconstructs/fhirapi/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20260301000002, down_20260301000002)
}

// up_20260301000002 creates the users table
func up_20260301000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating users table...")

	_, err := db.NewCreateTable().
		Model((*models.User)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	if err := createIndex(ctx, db, "users", "patient_id", "(patient_id)"); err != nil {
		return err
	}

	fmt.Println(" OK")
	return nil
}

// down_20260301000002 drops the users table
func down_20260301000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping users table...")

	_, err := db.NewDropTable().
		Model((*models.User)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop users table: %w", err)
	}

	fmt.Println(" OK")
	return nil
}
