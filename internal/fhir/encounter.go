package fhir

type EncounterStatusHistory struct {
	Status string `json:"status"`
	Period Period `json:"period"`
}

type Encounter struct {
	ResourceTypeName string                   `json:"resourceType"`
	ID               string                   `json:"id,omitempty"`
	Meta             *Meta                    `json:"meta,omitempty"`
	Identifier       []Identifier             `json:"identifier,omitempty"`
	Status           string                   `json:"status"`
	StatusHistory    []EncounterStatusHistory `json:"statusHistory,omitempty"`
	Class            Coding                   `json:"class"`
	Type             []CodeableConcept        `json:"type,omitempty"`
	SubjectRef       *Reference               `json:"subject,omitempty"`
	Period           *Period                  `json:"period,omitempty"`
	ReasonCode       []CodeableConcept        `json:"reasonCode,omitempty"`
	ServiceProvider  *Reference               `json:"serviceProvider,omitempty"`
}

// NewEncounter returns an encounter with resourceType set.
func NewEncounter() *Encounter {
	return &Encounter{ResourceTypeName: TypeEncounter}
}

func (e *Encounter) ResourceType() string       { return e.ResourceTypeName }
func (e *Encounter) ResourceID() string         { return e.ID }
func (e *Encounter) SetResourceID(id string)    { e.ID = id }
func (e *Encounter) ResourceMeta() *Meta        { return e.Meta }
func (e *Encounter) SetResourceMeta(meta *Meta) { e.Meta = meta }
func (e *Encounter) Subject() *Reference        { return e.SubjectRef }

// SubjectReference returns the literal subject reference, if any.
func (e *Encounter) SubjectReference() (string, bool) {
	return subjectReference(e.SubjectRef)
}

// IsActive reports whether the encounter is in-progress or arrived.
func (e *Encounter) IsActive() bool {
	return e.Status == EncounterInProgress || e.Status == EncounterArrived
}
