package fhir

// Patient demographics. A patient is its own compartment.
type Patient struct {
	ResourceTypeName     string         `json:"resourceType"`
	ID                   string         `json:"id,omitempty"`
	Meta                 *Meta          `json:"meta,omitempty"`
	Identifier           []Identifier   `json:"identifier,omitempty"`
	Active               *bool          `json:"active,omitempty"`
	Name                 []HumanName    `json:"name,omitempty"`
	Telecom              []ContactPoint `json:"telecom,omitempty"`
	Gender               string         `json:"gender,omitempty"`
	BirthDate            string         `json:"birthDate,omitempty"`
	DeceasedBoolean      *bool          `json:"deceasedBoolean,omitempty"`
	DeceasedDateTime     string         `json:"deceasedDateTime,omitempty"`
	Address              []Address      `json:"address,omitempty"`
	ManagingOrganization *Reference     `json:"managingOrganization,omitempty"`
}

// NewPatient returns an empty patient with resourceType set.
func NewPatient() *Patient {
	return &Patient{ResourceTypeName: TypePatient}
}

func (p *Patient) ResourceType() string       { return p.ResourceTypeName }
func (p *Patient) ResourceID() string         { return p.ID }
func (p *Patient) SetResourceID(id string)    { p.ID = id }
func (p *Patient) ResourceMeta() *Meta        { return p.Meta }
func (p *Patient) SetResourceMeta(meta *Meta) { p.Meta = meta }

// FamilyName returns the family name of the first name entry.
func (p *Patient) FamilyName() string {
	if len(p.Name) == 0 {
		return ""
	}
	return p.Name[0].Family
}

// GivenName returns the first given name of the first name entry.
func (p *Patient) GivenName() string {
	if len(p.Name) == 0 || len(p.Name[0].Given) == 0 {
		return ""
	}
	return p.Name[0].Given[0]
}

// Deceased reports the deceased flag; a deceasedDateTime implies true.
func (p *Patient) Deceased() *bool {
	if p.DeceasedBoolean != nil {
		return p.DeceasedBoolean
	}
	if p.DeceasedDateTime != "" {
		deceased := true
		return &deceased
	}
	return nil
}

// HasIdentifier reports whether the patient carries system|value.
func (p *Patient) HasIdentifier(system, value string) bool {
	for _, id := range p.Identifier {
		if id.System == system && id.Value == value {
			return true
		}
	}
	return false
}
