package fhir

type ObservationComponent struct {
	Code                 CodeableConcept  `json:"code"`
	ValueQuantity        *Quantity        `json:"valueQuantity,omitempty"`
	ValueCodeableConcept *CodeableConcept `json:"valueCodeableConcept,omitempty"`
	ValueString          string           `json:"valueString,omitempty"`
	ValueBoolean         *bool            `json:"valueBoolean,omitempty"`
	DataAbsentReason     *CodeableConcept `json:"dataAbsentReason,omitempty"`
}

// HasValue reports whether any value[x] is set.
func (c *ObservationComponent) HasValue() bool {
	return c.ValueQuantity != nil || c.ValueCodeableConcept != nil || c.ValueString != "" || c.ValueBoolean != nil
}

type Observation struct {
	ResourceTypeName     string                 `json:"resourceType"`
	ID                   string                 `json:"id,omitempty"`
	Meta                 *Meta                  `json:"meta,omitempty"`
	Identifier           []Identifier           `json:"identifier,omitempty"`
	Status               string                 `json:"status"`
	Category             []CodeableConcept      `json:"category,omitempty"`
	Code                 CodeableConcept        `json:"code"`
	SubjectRef           *Reference             `json:"subject,omitempty"`
	Encounter            *Reference             `json:"encounter,omitempty"`
	EffectiveDateTime    string                 `json:"effectiveDateTime,omitempty"`
	Issued               string                 `json:"issued,omitempty"`
	ValueQuantity        *Quantity              `json:"valueQuantity,omitempty"`
	ValueCodeableConcept *CodeableConcept       `json:"valueCodeableConcept,omitempty"`
	ValueString          string                 `json:"valueString,omitempty"`
	ValueBoolean         *bool                  `json:"valueBoolean,omitempty"`
	DataAbsentReason     *CodeableConcept       `json:"dataAbsentReason,omitempty"`
	Interpretation       []CodeableConcept      `json:"interpretation,omitempty"`
	Component            []ObservationComponent `json:"component,omitempty"`
}

// NewObservation returns an observation with resourceType set.
func NewObservation() *Observation {
	return &Observation{ResourceTypeName: TypeObservation}
}

func (o *Observation) ResourceType() string       { return o.ResourceTypeName }
func (o *Observation) ResourceID() string         { return o.ID }
func (o *Observation) SetResourceID(id string)    { o.ID = id }
func (o *Observation) ResourceMeta() *Meta        { return o.Meta }
func (o *Observation) SetResourceMeta(meta *Meta) { o.Meta = meta }
func (o *Observation) Subject() *Reference        { return o.SubjectRef }

// SubjectReference returns the literal subject reference, if any.
func (o *Observation) SubjectReference() (string, bool) {
	return subjectReference(o.SubjectRef)
}

// HasValue reports whether any value[x] is set.
func (o *Observation) HasValue() bool {
	return o.ValueQuantity != nil || o.ValueCodeableConcept != nil || o.ValueString != "" || o.ValueBoolean != nil
}
