package repository

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/terraconstructs/fhirapi/internal/db/models"
	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
)

// BunPatientRepository implements PatientRepository using Bun ORM
type BunPatientRepository struct {
	*BunResourceRepository[*fhir.Patient]
}

var _ PatientRepository = (*BunPatientRepository)(nil)

// NewBunPatientRepository creates a Bun-based Patient store.
func NewBunPatientRepository(db *bun.DB) *BunPatientRepository {
	return &BunPatientRepository{newBunResourceRepository(db, patientMapping)}
}

// FindByIdentifier narrows candidates on the identifiers column and then
// confirms the exact match on the decoded documents.
func (r *BunPatientRepository) FindByIdentifier(ctx context.Context, system, value string) ([]*fhir.Patient, error) {
	if value == "" {
		return nil, fhirerr.Validation("identifier value is required")
	}

	token := "|" + value + "\n"
	if system != "" {
		token = "\n" + IdentifierToken(system, value) + "\n"
	}

	// instr and strpos share the (haystack, needle) argument order.
	position := "instr"
	if r.db.Dialect().Name() == dialect.PG {
		position = "strpos"
	}

	var docs []string
	err := r.db.NewSelect().
		Model((*models.PatientRow)(nil)).
		Column("resource").
		Where(position+"(?, ?) > 0", bun.Ident(ColIdentifiers), token).
		OrderExpr("last_updated DESC, id ASC").
		Scan(ctx, &docs)
	if err != nil {
		return nil, fhirerr.Database(fmt.Errorf("find patient by identifier: %w", err))
	}

	candidates, err := r.decodeAll(docs)
	if err != nil {
		return nil, err
	}

	matches := candidates[:0]
	for _, p := range candidates {
		if matchesIdentifier(p, system, value) {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

func matchesIdentifier(p *fhir.Patient, system, value string) bool {
	for _, id := range p.Identifier {
		if id.Value == value && (system == "" || id.System == system) {
			return true
		}
	}
	return false
}
