package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/terraconstructs/fhirapi/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20260301000001, down_20260301000001)
}

type resourceTable struct {
	name    string
	current any
	history any
	indexes []string
}

var resourceTables = []resourceTable{
	{
		name:    "patients",
		current: (*models.PatientRow)(nil),
		history: (*models.PatientHistory)(nil),
		indexes: []string{"active", "family_name", "given_name", "gender", "birth_date", "deceased"},
	},
	{
		name:    "observations",
		current: (*models.ObservationRow)(nil),
		history: (*models.ObservationHistory)(nil),
		indexes: []string{"status", "subject_id", "category_code", "code_code", "code_system", "effective_datetime", "issued"},
	},
	{
		name:    "conditions",
		current: (*models.ConditionRow)(nil),
		history: (*models.ConditionHistory)(nil),
		indexes: []string{"subject_id", "clinical_status", "verification_status", "category_code", "code_code", "code_system", "onset_datetime", "recorded_date"},
	},
	{
		name:    "encounters",
		current: (*models.EncounterRow)(nil),
		history: (*models.EncounterHistory)(nil),
		indexes: []string{"status", "class_code", "subject_id", "period_start", "period_end"},
	},
}

// up_20260301000001 creates the current and history tables of every resource kind
func up_20260301000001(ctx context.Context, db *bun.DB) error {
	for _, t := range resourceTables {
		fmt.Printf(" [up] creating %s tables...", t.name)

		if _, err := db.NewCreateTable().Model(t.current).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
		if _, err := db.NewCreateTable().Model(t.history).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create %s_history table: %w", t.name, err)
		}

		for _, col := range t.indexes {
			if err := createIndex(ctx, db, t.name, col, "("+col+")"); err != nil {
				return err
			}
		}
		if err := createIndex(ctx, db, t.name, "last_updated", "(last_updated DESC)"); err != nil {
			return err
		}
		if IsPostgreSQL(db) {
			if err := createIndex(ctx, db, t.name, "resource_gin", "USING gin (resource jsonb_path_ops)"); err != nil {
				return err
			}
		}

		fmt.Println(" OK")
	}
	return nil
}

// down_20260301000001 drops every resource table
func down_20260301000001(ctx context.Context, db *bun.DB) error {
	for i := len(resourceTables) - 1; i >= 0; i-- {
		t := resourceTables[i]
		fmt.Printf(" [down] dropping %s tables...", t.name)

		if _, err := db.NewDropTable().Model(t.history).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop %s_history table: %w", t.name, err)
		}
		if _, err := db.NewDropTable().Model(t.current).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop %s table: %w", t.name, err)
		}

		fmt.Println(" OK")
	}
	return nil
}
