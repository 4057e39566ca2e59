package fhir

type Condition struct {
	ResourceTypeName   string            `json:"resourceType"`
	ID                 string            `json:"id,omitempty"`
	Meta               *Meta             `json:"meta,omitempty"`
	Identifier         []Identifier      `json:"identifier,omitempty"`
	ClinicalStatus     *CodeableConcept  `json:"clinicalStatus,omitempty"`
	VerificationStatus *CodeableConcept  `json:"verificationStatus,omitempty"`
	Category           []CodeableConcept `json:"category,omitempty"`
	Severity           *CodeableConcept  `json:"severity,omitempty"`
	Code               *CodeableConcept  `json:"code,omitempty"`
	SubjectRef         Reference         `json:"subject"`
	Encounter          *Reference        `json:"encounter,omitempty"`
	OnsetDateTime      string            `json:"onsetDateTime,omitempty"`
	AbatementDateTime  string            `json:"abatementDateTime,omitempty"`
	RecordedDate       string            `json:"recordedDate,omitempty"`
}

// NewCondition returns a condition with resourceType set.
func NewCondition() *Condition {
	return &Condition{ResourceTypeName: TypeCondition}
}

func (c *Condition) ResourceType() string       { return c.ResourceTypeName }
func (c *Condition) ResourceID() string         { return c.ID }
func (c *Condition) SetResourceID(id string)    { c.ID = id }
func (c *Condition) ResourceMeta() *Meta        { return c.Meta }
func (c *Condition) SetResourceMeta(meta *Meta) { c.Meta = meta }
func (c *Condition) Subject() *Reference        { return &c.SubjectRef }

// SubjectReference returns the literal subject reference, if any.
func (c *Condition) SubjectReference() (string, bool) {
	return subjectReference(&c.SubjectRef)
}

// ClinicalStatusCode returns the first clinical status code.
func (c *Condition) ClinicalStatusCode() string {
	coding, _ := c.ClinicalStatus.FirstCoding()
	return coding.Code
}

// VerificationStatusCode returns the first verification status code.
func (c *Condition) VerificationStatusCode() string {
	coding, _ := c.VerificationStatus.FirstCoding()
	return coding.Code
}
