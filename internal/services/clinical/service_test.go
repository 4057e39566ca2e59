package clinical

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/terraconstructs/fhirapi/internal/authz"
	"github.com/terraconstructs/fhirapi/internal/db/bunx"
	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
	"github.com/terraconstructs/fhirapi/internal/migrations"
	"github.com/terraconstructs/fhirapi/internal/repository"
	"github.com/terraconstructs/fhirapi/internal/services/validation"
)

const mrnSystem = "http://hospital.example.org/mrn"

// setupServices wires every service to a private in-memory SQLite database.
func setupServices(t *testing.T) *Services {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := bunx.NewDB(dsn, bunx.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = migrations.Apply(context.Background(), db)
	require.NoError(t, err)

	v, err := validation.NewResourceValidator(validation.DefaultCacheSize)
	require.NoError(t, err)

	repos := Repositories{
		Patients:     repository.NewBunPatientRepository(db),
		Observations: repository.NewBunObservationRepository(db),
		Conditions:   repository.NewBunConditionRepository(db),
		Encounters:   repository.NewBunEncounterRepository(db),
	}
	return New(repos, authz.DefaultRules(), v, zap.NewNop())
}

func newPatient(family, gender, mrn string) *fhir.Patient {
	p := fhir.NewPatient()
	p.Name = []fhir.HumanName{{Family: family, Given: []string{"Test"}}}
	p.Gender = gender
	if mrn != "" {
		p.Identifier = []fhir.Identifier{{System: mrnSystem, Value: mrn}}
	}
	return p
}

func newObservation(patientID, code string) *fhir.Observation {
	o := fhir.NewObservation()
	o.Status = "final"
	o.Code = fhir.CodeableConcept{Coding: []fhir.Coding{{System: "http://loinc.org", Code: code}}}
	o.SubjectRef = &fhir.Reference{Reference: "Patient/" + patientID}
	o.ValueString = "ok"
	return o
}

func newCondition(patientID, clinicalStatus string) *fhir.Condition {
	c := fhir.NewCondition()
	c.SubjectRef = fhir.Reference{Reference: "Patient/" + patientID}
	c.ClinicalStatus = &fhir.CodeableConcept{Coding: []fhir.Coding{{Code: clinicalStatus}}}
	c.Code = &fhir.CodeableConcept{Text: "Hypertension"}
	return c
}

func newEncounter(patientID, status string) *fhir.Encounter {
	e := fhir.NewEncounter()
	e.Status = status
	e.Class = fhir.Coding{Code: "AMB"}
	e.SubjectRef = &fhir.Reference{Reference: "Patient/" + patientID}
	return e
}

// createPatients stores two patients as admin and returns their ids.
func createPatients(t *testing.T, svc *Services) (string, string) {
	t.Helper()
	ctx := context.Background()
	admin := authz.Admin("admin")

	a, err := svc.Patients.Create(ctx, admin, newPatient("Smith", "female", "MRN-1"))
	require.NoError(t, err)
	b, err := svc.Patients.Create(ctx, admin, newPatient("Jones", "male", "MRN-2"))
	require.NoError(t, err)
	return a.ID, b.ID
}

func TestPatientService_CRUD(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	admin := authz.Admin("admin")

	in := newPatient("Smith", "female", "MRN-1")
	in.ID = "client-chosen"
	created, err := svc.Patients.Create(ctx, admin, in)
	require.NoError(t, err)
	assert.NotEqual(t, "client-chosen", created.ID)
	require.NotNil(t, created.Meta)
	assert.Equal(t, "1", created.Meta.VersionID)

	got, err := svc.Patients.Get(ctx, admin, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Smith", got.FamilyName())

	got.Gender = "other"
	updated, err := svc.Patients.Update(ctx, admin, created.ID, got)
	require.NoError(t, err)
	assert.Equal(t, "2", updated.Meta.VersionID)
	assert.Equal(t, "other", updated.Gender)

	history, err := svc.Patients.History(ctx, admin, created.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2", history[0].Meta.VersionID)

	v1, err := svc.Patients.Version(ctx, admin, created.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "female", v1.Gender)

	require.NoError(t, svc.Patients.Delete(ctx, admin, created.ID))
	_, err = svc.Patients.Get(ctx, admin, created.ID)
	assert.ErrorIs(t, err, fhirerr.ErrNotFound)
}

func TestPatientService_CreateRejections(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	admin := authz.Admin("admin")

	_, err := svc.Patients.Create(ctx, admin, newPatient("Smith", "female", "MRN-1"))
	require.NoError(t, err)

	t.Run("duplicate identifier", func(t *testing.T) {
		_, err := svc.Patients.Create(ctx, admin, newPatient("Smyth", "female", "MRN-1"))
		require.ErrorIs(t, err, fhirerr.ErrConflict)
		assert.Contains(t, err.Error(), mrnSystem+"|MRN-1")
	})

	t.Run("invalid gender", func(t *testing.T) {
		_, err := svc.Patients.Create(ctx, admin, newPatient("Doe", "robot", ""))
		assert.ErrorIs(t, err, fhirerr.ErrValidation)
	})

	t.Run("malformed managing organization", func(t *testing.T) {
		p := newPatient("Doe", "male", "")
		p.ManagingOrganization = &fhir.Reference{Reference: "org-001"}
		_, err := svc.Patients.Create(ctx, admin, p)
		assert.ErrorIs(t, err, fhirerr.ErrInvalidReference)
	})

	t.Run("patient role cannot create", func(t *testing.T) {
		_, err := svc.Patients.Create(ctx, authz.Patient("u1", "p1"), newPatient("Doe", "male", ""))
		require.ErrorIs(t, err, fhirerr.ErrForbidden)
		assert.Contains(t, err.Error(), "User u1 does not have permission Create for resource type Patient")
	})
}

func TestPatientService_UpdateIDMismatch(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	id, _ := createPatients(t, svc)

	p := newPatient("Smith", "female", "MRN-1")
	p.ID = "someone-else"
	_, err := svc.Patients.Update(ctx, authz.Admin("admin"), id, p)
	require.ErrorIs(t, err, fhirerr.ErrValidation)
	assert.Contains(t, err.Error(), "Resource id 'someone-else' does not match URL id")
}

func TestPatientService_PatientRole(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	own, other := createPatients(t, svc)
	me := authz.Patient("user-1", own)

	t.Run("reads own record", func(t *testing.T) {
		p, err := svc.Patients.Get(ctx, me, own)
		require.NoError(t, err)
		assert.Equal(t, own, p.ID)
	})

	t.Run("cannot read another record", func(t *testing.T) {
		_, err := svc.Patients.Get(ctx, me, other)
		require.ErrorIs(t, err, fhirerr.ErrForbidden)
		assert.Contains(t, err.Error(), "Patient user-1 cannot access Patient resource "+other)
	})

	t.Run("search is narrowed to own record", func(t *testing.T) {
		page, err := svc.Patients.Search(ctx, me, SearchParams{})
		require.NoError(t, err)
		require.Len(t, page.Resources, 1)
		assert.Equal(t, own, page.Resources[0].ID)
		assert.Equal(t, 1, page.Total)
	})

	t.Run("identifier search drops other records", func(t *testing.T) {
		matches, err := svc.Patients.SearchByIdentifier(ctx, me, mrnSystem, "MRN-2")
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("history of another record", func(t *testing.T) {
		_, err := svc.Patients.History(ctx, me, other)
		assert.ErrorIs(t, err, fhirerr.ErrForbidden)
	})

	t.Run("unlinked patient context", func(t *testing.T) {
		_, err := svc.Patients.Search(ctx, authz.New("orphan", authz.RolePatient), SearchParams{})
		require.ErrorIs(t, err, fhirerr.ErrForbidden)
		assert.Contains(t, err.Error(), "not linked to a patient compartment")
	})

	t.Run("cannot delete", func(t *testing.T) {
		err := svc.Patients.Delete(ctx, me, own)
		assert.ErrorIs(t, err, fhirerr.ErrForbidden)
	})
}

func TestPatientService_Search(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	createPatients(t, svc)
	doc := authz.Clinician("doc", "org-001")

	page, err := svc.Patients.SearchByFamily(ctx, doc, "smi", SearchParams{})
	require.NoError(t, err)
	require.Len(t, page.Resources, 1)
	assert.Equal(t, "Smith", page.Resources[0].FamilyName())

	_, err = svc.Patients.SearchByFamily(ctx, doc, "", SearchParams{})
	assert.ErrorIs(t, err, fhirerr.ErrValidation)

	page, err = svc.Patients.Search(ctx, doc, SearchParams{Filter: `gender == "male"`})
	require.NoError(t, err)
	require.Len(t, page.Resources, 1)
	assert.Equal(t, "Jones", page.Resources[0].FamilyName())
	assert.Equal(t, 1, page.Total)

	page, err = svc.Patients.Search(ctx, doc, SearchParams{Count: 1})
	require.NoError(t, err)
	assert.Len(t, page.Resources, 1)
	assert.Equal(t, 2, page.Total)

	_, err = svc.Patients.Search(ctx, doc, SearchParams{Filter: `gender ==`})
	assert.ErrorIs(t, err, fhirerr.ErrValidation)

	matches, err := svc.Patients.SearchByIdentifier(ctx, doc, "", "MRN-1")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestPatientService_Conditional(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	admin := authz.Admin("admin")
	createPatients(t, svc)

	t.Run("conditional create with a match", func(t *testing.T) {
		_, err := svc.Patients.ConditionalCreate(ctx, admin, newPatient("Smith", "female", "MRN-1"), mrnSystem, "MRN-1")
		assert.ErrorIs(t, err, fhirerr.ErrPreconditionFailed)
	})

	t.Run("conditional create without a match", func(t *testing.T) {
		p, err := svc.Patients.ConditionalCreate(ctx, admin, newPatient("New", "female", "MRN-3"), mrnSystem, "MRN-3")
		require.NoError(t, err)
		assert.NotEmpty(t, p.ID)
	})

	t.Run("conditional update of the single match", func(t *testing.T) {
		p, created, err := svc.Patients.ConditionalUpdate(ctx, admin, newPatient("Smith", "other", "MRN-1"), mrnSystem, "MRN-1")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "other", p.Gender)
		assert.Equal(t, "2", p.Meta.VersionID)
	})

	t.Run("conditional update creates", func(t *testing.T) {
		p, created, err := svc.Patients.ConditionalUpdate(ctx, admin, newPatient("Fresh", "male", "MRN-9"), mrnSystem, "MRN-9")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "1", p.Meta.VersionID)
	})

	t.Run("conditional update with several matches", func(t *testing.T) {
		dup := newPatient("Twin", "male", "")
		dup.Identifier = []fhir.Identifier{{System: "http://other.example.org", Value: "MRN-1"}}
		_, err := svc.Patients.Create(ctx, admin, dup)
		require.NoError(t, err)

		_, _, err = svc.Patients.ConditionalUpdate(ctx, admin, newPatient("Any", "male", ""), "", "MRN-1")
		require.ErrorIs(t, err, fhirerr.ErrPreconditionFailed)
		assert.Contains(t, err.Error(), "2 patients match identifier")
	})
}

func TestObservationService_Compartments(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	own, other := createPatients(t, svc)
	doc := authz.Clinician("doc", "org-001")

	mine, err := svc.Observations.Create(ctx, doc, newObservation(own, "8867-4"))
	require.NoError(t, err)
	theirs, err := svc.Observations.Create(ctx, doc, newObservation(other, "8867-4"))
	require.NoError(t, err)
	_, err = svc.Observations.Create(ctx, doc, newObservation(own, "2339-0"))
	require.NoError(t, err)

	me := authz.Patient("user-1", own)

	t.Run("reads own observation", func(t *testing.T) {
		got, err := svc.Observations.Get(ctx, me, mine.ID)
		require.NoError(t, err)
		assert.Equal(t, mine.ID, got.ID)
	})

	t.Run("cannot read another compartment", func(t *testing.T) {
		_, err := svc.Observations.Get(ctx, me, theirs.ID)
		require.ErrorIs(t, err, fhirerr.ErrForbidden)
		assert.Contains(t, err.Error(), "cannot access patient compartment for patient "+other)
	})

	t.Run("unfiltered search is narrowed", func(t *testing.T) {
		page, err := svc.Observations.Search(ctx, me, SearchParams{})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
		for _, o := range page.Resources {
			ref, _ := o.SubjectReference()
			assert.Equal(t, "Patient/"+own, ref)
		}
	})

	t.Run("search of another compartment", func(t *testing.T) {
		_, err := svc.Observations.SearchByPatient(ctx, me, "Patient/"+other, SearchParams{})
		assert.ErrorIs(t, err, fhirerr.ErrForbidden)
	})

	t.Run("patient cannot create", func(t *testing.T) {
		_, err := svc.Observations.Create(ctx, me, newObservation(own, "8867-4"))
		assert.ErrorIs(t, err, fhirerr.ErrForbidden)
	})

	t.Run("clinician searches by code", func(t *testing.T) {
		page, err := svc.Observations.SearchByCode(ctx, doc, "http://loinc.org", "8867-4", SearchParams{})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)

		page, err = svc.Observations.SearchByPatientAndCode(ctx, doc, own, "", "8867-4", SearchParams{})
		require.NoError(t, err)
		require.Len(t, page.Resources, 1)
		assert.Equal(t, mine.ID, page.Resources[0].ID)
	})

	t.Run("clinician cannot delete", func(t *testing.T) {
		err := svc.Observations.Delete(ctx, doc, mine.ID)
		assert.ErrorIs(t, err, fhirerr.ErrForbidden)
	})

	t.Run("history of own observation", func(t *testing.T) {
		versions, err := svc.Observations.History(ctx, me, mine.ID)
		require.NoError(t, err)
		assert.Len(t, versions, 1)

		_, err = svc.Observations.History(ctx, me, theirs.ID)
		assert.ErrorIs(t, err, fhirerr.ErrForbidden)
	})
}

func TestObservationService_References(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	admin := authz.Admin("admin")

	o := newObservation("p1", "8867-4")
	o.SubjectRef = &fhir.Reference{Reference: "Patient/p1/extra"}
	_, err := svc.Observations.Create(ctx, admin, o)
	assert.ErrorIs(t, err, fhirerr.ErrInvalidReference)

	o = newObservation("p1", "8867-4")
	o.Encounter = &fhir.Reference{Reference: "enc-1"}
	_, err = svc.Observations.Create(ctx, admin, o)
	assert.ErrorIs(t, err, fhirerr.ErrInvalidReference)

	o = newObservation("p1", "8867-4")
	o.Status = ""
	_, err = svc.Observations.Create(ctx, admin, o)
	assert.ErrorIs(t, err, fhirerr.ErrMissingRequiredField)
}

func TestCompartmentService_UpdateAndDelete(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	admin := authz.Admin("admin")

	created, err := svc.Observations.Create(ctx, admin, newObservation("p1", "8867-4"))
	require.NoError(t, err)

	created.Status = "amended"
	updated, err := svc.Observations.Update(ctx, admin, created.ID, created)
	require.NoError(t, err)
	assert.Equal(t, "amended", updated.Status)
	assert.Equal(t, "2", updated.Meta.VersionID)

	_, err = svc.Observations.Update(ctx, admin, "missing", newObservation("p1", "8867-4"))
	assert.ErrorIs(t, err, fhirerr.ErrNotFound)

	t.Run("patient cannot update", func(t *testing.T) {
		moved := newObservation("p2", "8867-4")
		_, err := svc.Observations.Update(ctx, authz.Patient("u", "p1"), created.ID, moved)
		assert.ErrorIs(t, err, fhirerr.ErrForbidden)
	})

	require.NoError(t, svc.Observations.Delete(ctx, admin, created.ID))
	_, err = svc.Observations.Get(ctx, admin, created.ID)
	assert.ErrorIs(t, err, fhirerr.ErrNotFound)
}

func TestConditionService(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	doc := authz.Clinician("doc", "")

	_, err := svc.Conditions.Create(ctx, doc, newCondition("p1", "active"))
	require.NoError(t, err)
	_, err = svc.Conditions.Create(ctx, doc, newCondition("p1", "resolved"))
	require.NoError(t, err)
	_, err = svc.Conditions.Create(ctx, doc, newCondition("p2", "active"))
	require.NoError(t, err)

	active, err := svc.Conditions.ActiveConditions(ctx, doc, "p1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "active", active[0].ClinicalStatusCode())

	page, err := svc.Conditions.SearchByClinicalStatus(ctx, doc, "active", SearchParams{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	_, err = svc.Conditions.SearchByClinicalStatus(ctx, doc, "cured", SearchParams{})
	require.ErrorIs(t, err, fhirerr.ErrValidation)
	assert.Contains(t, err.Error(), "Invalid clinical status: cured")

	_, err = svc.Conditions.ActiveConditions(ctx, authz.Patient("u", "p2"), "p1")
	assert.ErrorIs(t, err, fhirerr.ErrForbidden)

	missing := newCondition("p1", "active")
	missing.SubjectRef = fhir.Reference{}
	_, err = svc.Conditions.Create(ctx, doc, missing)
	assert.ErrorIs(t, err, fhirerr.ErrMissingRequiredField)
}

func TestEncounterService(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	doc := authz.Clinician("doc", "")

	planned, err := svc.Encounters.Create(ctx, doc, newEncounter("p1", "planned"))
	require.NoError(t, err)
	_, err = svc.Encounters.Create(ctx, doc, newEncounter("p1", "in-progress"))
	require.NoError(t, err)
	_, err = svc.Encounters.Create(ctx, doc, newEncounter("p1", "finished"))
	require.NoError(t, err)

	active, err := svc.Encounters.ActiveEncounters(ctx, doc, "p1")
	require.NoError(t, err)
	assert.Len(t, active, 1)

	page, err := svc.Encounters.SearchByStatus(ctx, doc, "finished", SearchParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, err = svc.Encounters.SearchByStatus(ctx, doc, "done", SearchParams{})
	assert.ErrorIs(t, err, fhirerr.ErrValidation)

	t.Run("status change records history", func(t *testing.T) {
		arrived, err := svc.Encounters.UpdateStatus(ctx, doc, planned.ID, "arrived")
		require.NoError(t, err)
		assert.Equal(t, "arrived", arrived.Status)
		require.Len(t, arrived.StatusHistory, 1)
		assert.Equal(t, "planned", arrived.StatusHistory[0].Status)
		assert.NotEmpty(t, arrived.StatusHistory[0].Period.Start)
		assert.NotEmpty(t, arrived.StatusHistory[0].Period.End)

		same, err := svc.Encounters.UpdateStatus(ctx, doc, planned.ID, "arrived")
		require.NoError(t, err)
		assert.Len(t, same.StatusHistory, 1)
		assert.Equal(t, "3", same.Meta.VersionID)

		active, err := svc.Encounters.ActiveEncounters(ctx, doc, "p1")
		require.NoError(t, err)
		assert.Len(t, active, 2)
	})

	t.Run("invalid status", func(t *testing.T) {
		_, err := svc.Encounters.UpdateStatus(ctx, doc, planned.ID, "teleported")
		require.ErrorIs(t, err, fhirerr.ErrValidation)
		assert.Contains(t, err.Error(), "Invalid encounter status: teleported")
	})

	t.Run("patient cannot change status", func(t *testing.T) {
		_, err := svc.Encounters.UpdateStatus(ctx, authz.Patient("u", "p1"), planned.ID, "finished")
		assert.ErrorIs(t, err, fhirerr.ErrForbidden)
	})

	t.Run("unknown encounter", func(t *testing.T) {
		_, err := svc.Encounters.UpdateStatus(ctx, doc, "nope", "finished")
		assert.ErrorIs(t, err, fhirerr.ErrNotFound)
	})
}

func TestParseIdentifier(t *testing.T) {
	system, value, err := ParseIdentifier(mrnSystem + "|MRN-1")
	require.NoError(t, err)
	assert.Equal(t, mrnSystem, system)
	assert.Equal(t, "MRN-1", value)

	system, value, err = ParseIdentifier("MRN-1")
	require.NoError(t, err)
	assert.Empty(t, system)
	assert.Equal(t, "MRN-1", value)

	_, _, err = ParseIdentifier(mrnSystem + "|")
	assert.ErrorIs(t, err, fhirerr.ErrValidation)
}

func TestObservationService_HistoryAfterSubjectChange(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	doc := authz.Clinician("doc", "org-001")

	created, err := svc.Observations.Create(ctx, doc, newObservation("p1", "8867-4"))
	require.NoError(t, err)

	moved := newObservation("p2", "8867-4")
	moved.ValueString = "p2-private"
	_, err = svc.Observations.Update(ctx, doc, created.ID, moved)
	require.NoError(t, err)

	t.Run("previous owner is denied", func(t *testing.T) {
		_, err := svc.Observations.History(ctx, authz.Patient("u1", "p1"), created.ID)
		require.ErrorIs(t, err, fhirerr.ErrForbidden)
		assert.Contains(t, err.Error(), "cannot access patient compartment for patient p2")
	})

	t.Run("new owner sees only its versions", func(t *testing.T) {
		versions, err := svc.Observations.History(ctx, authz.Patient("u2", "p2"), created.ID)
		require.NoError(t, err)
		require.Len(t, versions, 1)
		assert.Equal(t, "2", versions[0].Meta.VersionID)
		assert.Equal(t, "p2-private", versions[0].ValueString)
	})

	t.Run("clinician sees every version", func(t *testing.T) {
		versions, err := svc.Observations.History(ctx, doc, created.ID)
		require.NoError(t, err)
		assert.Len(t, versions, 2)
	})
}

func TestPatientService_ConditionalUpdateUnderSearchRules(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	admin := authz.Admin("admin")
	own, _ := createPatients(t, svc)

	twin := newPatient("Twin", "male", "")
	twin.Identifier = []fhir.Identifier{{System: "http://other.example.org", Value: "MRN-1"}}
	_, err := svc.Patients.Create(ctx, admin, twin)
	require.NoError(t, err)

	t.Run("matches outside the caller's compartment are not revealed", func(t *testing.T) {
		intruder := authz.Patient("intruder", "nobody")
		for _, value := range []string{"MRN-1", "MRN-2", "MRN-404"} {
			_, created, err := svc.Patients.ConditionalUpdate(ctx, intruder, newPatient("X", "male", ""), "", value)
			require.ErrorIs(t, err, fhirerr.ErrForbidden, value)
			assert.False(t, created)
			assert.Equal(t, "Forbidden: User intruder does not have permission Create for resource type Patient", err.Error(), value)
		}
	})

	t.Run("own record is matched but not writable", func(t *testing.T) {
		_, _, err := svc.Patients.ConditionalUpdate(ctx, authz.Patient("u1", own), newPatient("Smith", "female", "MRN-1"), mrnSystem, "MRN-1")
		require.ErrorIs(t, err, fhirerr.ErrForbidden)
		assert.Contains(t, err.Error(), "does not have permission Update")
	})

	t.Run("conditional create checks create first", func(t *testing.T) {
		_, err := svc.Patients.ConditionalCreate(ctx, authz.Patient("intruder", "nobody"), newPatient("X", "male", ""), "", "MRN-1")
		require.ErrorIs(t, err, fhirerr.ErrForbidden)
		assert.Contains(t, err.Error(), "does not have permission Create")
	})
}

func TestObservationService_EmptySubjectReference(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()

	o := fhir.NewObservation()
	require.NoError(t, json.Unmarshal([]byte(`{
		"resourceType": "Observation",
		"status": "final",
		"code": {"text": "Heart rate"},
		"subject": {"reference": ""},
		"valueString": "72"
	}`), o))

	_, err := svc.Observations.Create(ctx, authz.Clinician("doc", ""), o)
	require.ErrorIs(t, err, fhirerr.ErrInvalidReference)
	assert.Contains(t, err.Error(), "subject reference must not be empty")
}
