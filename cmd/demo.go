package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/fhirapi/internal/authz"
	"github.com/terraconstructs/fhirapi/internal/db/bunx"
	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/migrations"
	"github.com/terraconstructs/fhirapi/internal/services/clinical"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run example operations against the configured database",
	Long: `Creates a patient with an observation, a condition and an encounter using
the system identity, then runs searches and shows how the authorization rules
answer for Patient and Clinician callers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		if _, err := migrations.Apply(cmd.Context(), db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		services, err := buildServices(db)
		if err != nil {
			return err
		}
		return runDemo(cmd.Context(), services, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

func printStep(w io.Writer, title string, v any) {
	fmt.Fprintf(w, "== %s\n", title)
	if v == nil {
		return
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "   (unprintable: %v)\n", err)
		return
	}
	fmt.Fprintf(w, "%s\n", out)
}

// runDemo walks through the main operations of every service.
func runDemo(ctx context.Context, svc *clinical.Services, w io.Writer) error {
	system := authz.System()

	active := true
	patient := fhir.NewPatient()
	patient.Active = &active
	patient.Gender = "male"
	patient.Name = []fhir.HumanName{{Use: "official", Text: "John Doe", Family: "Doe", Given: []string{"John"}}}
	patient, err := svc.Patients.Create(ctx, system, patient)
	if err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	printStep(w, "created patient "+patient.ID, patient)
	subject := fhir.Reference{Reference: fhir.TypePatient + "/" + patient.ID, Display: "John Doe"}

	rate := 72.0
	obs := fhir.NewObservation()
	obs.Status = "final"
	obs.Code = fhir.CodeableConcept{
		Coding: []fhir.Coding{{System: "http://loinc.org", Code: "8867-4", Display: "Heart rate"}},
		Text:   "Heart rate",
	}
	obs.SubjectRef = &subject
	obs.ValueQuantity = &fhir.Quantity{Value: &rate, Unit: "beats/min", System: "http://unitsofmeasure.org", Code: "/min"}
	obs, err = svc.Observations.Create(ctx, system, obs)
	if err != nil {
		return fmt.Errorf("create observation: %w", err)
	}
	printStep(w, "created observation "+obs.ID, obs)

	cond := fhir.NewCondition()
	cond.SubjectRef = subject
	cond.Code = &fhir.CodeableConcept{
		Coding: []fhir.Coding{{System: "http://snomed.info/sct", Code: "38341003", Display: "Hypertension"}},
		Text:   "Hypertension",
	}
	cond.ClinicalStatus = &fhir.CodeableConcept{
		Coding: []fhir.Coding{{System: "http://terminology.hl7.org/CodeSystem/condition-clinical", Code: fhir.ConditionActive, Display: "Active"}},
	}
	cond, err = svc.Conditions.Create(ctx, system, cond)
	if err != nil {
		return fmt.Errorf("create condition: %w", err)
	}
	printStep(w, "created condition "+cond.ID, cond)

	enc := fhir.NewEncounter()
	enc.Status = fhir.EncounterInProgress
	enc.Class = fhir.Coding{System: "http://terminology.hl7.org/CodeSystem/v3-ActCode", Code: "AMB", Display: "ambulatory"}
	enc.SubjectRef = &subject
	enc, err = svc.Encounters.Create(ctx, system, enc)
	if err != nil {
		return fmt.Errorf("create encounter: %w", err)
	}
	printStep(w, "created encounter "+enc.ID, enc)

	observations, err := svc.Observations.SearchByPatient(ctx, system, patient.ID, clinical.SearchParams{})
	if err != nil {
		return fmt.Errorf("search observations: %w", err)
	}
	printStep(w, fmt.Sprintf("observations for patient: %d", observations.Total), nil)

	conditions, err := svc.Conditions.ActiveConditions(ctx, system, patient.ID)
	if err != nil {
		return fmt.Errorf("active conditions: %w", err)
	}
	printStep(w, fmt.Sprintf("active conditions: %d", len(conditions)), nil)

	enc, err = svc.Encounters.UpdateStatus(ctx, system, enc.ID, fhir.EncounterFinished)
	if err != nil {
		return fmt.Errorf("finish encounter: %w", err)
	}
	printStep(w, "encounter finished", enc.StatusHistory)

	history, err := svc.Patients.History(ctx, system, patient.ID)
	if err != nil {
		return fmt.Errorf("patient history: %w", err)
	}
	printStep(w, fmt.Sprintf("patient versions: %d", len(history)), nil)

	// Authorization answers for non-system callers.
	checks := []struct {
		name string
		run  func() error
	}{
		{"own patient reads own record", func() error {
			_, err := svc.Patients.Get(ctx, authz.Patient("demo-patient", patient.ID), patient.ID)
			return err
		}},
		{"other patient reads the record", func() error {
			_, err := svc.Patients.Get(ctx, authz.Patient("demo-other", "someone-else"), patient.ID)
			return err
		}},
		{"other patient reads the observation", func() error {
			_, err := svc.Observations.Get(ctx, authz.Patient("demo-other", "someone-else"), obs.ID)
			return err
		}},
		{"clinician deletes the condition", func() error {
			return svc.Conditions.Delete(ctx, authz.Clinician("demo-doctor", "org-001"), cond.ID)
		}},
	}
	for _, c := range checks {
		if err := c.run(); err != nil {
			fmt.Fprintf(w, "== %s: denied: %v\n", c.name, err)
			continue
		}
		fmt.Fprintf(w, "== %s: allowed\n", c.name)
	}
	return nil
}
