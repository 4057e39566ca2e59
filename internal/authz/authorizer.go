package authz

import (
	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
)

// Authorizer decides whether a security context may perform an action.
// Every denial is a Forbidden *fhirerr.Error; checks never block or mutate.
type Authorizer interface {
	// CheckPermission consults only the role matrix. resourceType labels the
	// error message and does not influence the decision.
	CheckPermission(sc *SecurityContext, resourceType string, perm Permission) error

	// CheckResourceAccess adds the instance check on top of CheckPermission.
	// Patient-role contexts may only reach the Patient resource whose id is
	// their own compartment. It does not inspect subject references of
	// other resource types; pair it with CheckPatientCompartmentAccess.
	CheckResourceAccess(sc *SecurityContext, resourceType, resourceID string, perm Permission) error

	// CheckPatientCompartmentAccess enforces cross-patient isolation for
	// resources that reference a patient.
	CheckPatientCompartmentAccess(sc *SecurityContext, patientID string, perm Permission) error
}

// DefaultAuthorizer implements Authorizer over the static role matrix.
type DefaultAuthorizer struct{}

var _ Authorizer = DefaultAuthorizer{}

// NewDefaultAuthorizer returns the stateless default authorizer.
func NewDefaultAuthorizer() DefaultAuthorizer { return DefaultAuthorizer{} }

func (DefaultAuthorizer) CheckPermission(sc *SecurityContext, resourceType string, perm Permission) error {
	if sc.Roles().Grants(perm) {
		return nil
	}
	return fhirerr.Forbidden("User %s does not have permission %s for resource type %s",
		sc.UserID(), perm, resourceType)
}

func (a DefaultAuthorizer) CheckResourceAccess(sc *SecurityContext, resourceType, resourceID string, perm Permission) error {
	if err := a.CheckPermission(sc, resourceType, perm); err != nil {
		return err
	}

	if sc.unrestricted() {
		return nil
	}

	if sc.IsPatient() && resourceType == fhir.TypePatient {
		if pid, ok := sc.PatientID(); ok && pid == resourceID {
			return nil
		}
		return fhirerr.Forbidden("Patient %s cannot access Patient resource %s", sc.UserID(), resourceID)
	}

	return nil
}

func (a DefaultAuthorizer) CheckPatientCompartmentAccess(sc *SecurityContext, patientID string, perm Permission) error {
	if sc.unrestricted() {
		return nil
	}

	// The Patient row of the matrix gates compartment access.
	if err := a.CheckPermission(sc, fhir.TypePatient, perm); err != nil {
		return err
	}

	if sc.IsPatient() {
		if pid, ok := sc.PatientID(); ok && pid == patientID {
			return nil
		}
		return fhirerr.Forbidden("Patient %s cannot access patient compartment for patient %s", sc.UserID(), patientID)
	}

	return nil
}
