package identity

import (
	"time"

	"github.com/hms/hms/pkg/filter"
)

// Gender values accepted by the patient list filter.
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

// UnknownPatientName is the display name for a patient id that does not
// resolve. Callers searching by name rely on this exact string.
const UnknownPatientName = "Unknown Patient"

// Patient is the front-office view of a patient record. Patients are owned
// by the records system; this service only reads them.
type Patient struct {
	ID               string     `json:"id"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	Email            string     `json:"email"`
	Phone            string     `json:"phone"`
	DateOfBirth      *time.Time `json:"date_of_birth,omitempty"`
	Gender           string     `json:"gender"`
	Address          string     `json:"address,omitempty"`
	EmergencyContact string     `json:"emergency_contact,omitempty"`
	EmergencyPhone   string     `json:"emergency_phone,omitempty"`
	MedicalHistory   *string    `json:"medical_history,omitempty"`
	Allergies        *string    `json:"allergies,omitempty"`
	BloodGroup       *string    `json:"blood_group,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// DisplayName returns "<first> <last>".
func (p *Patient) DisplayName() string {
	return p.FirstName + " " + p.LastName
}

// Filter is the patient list engine: free text over first name, last name,
// email and phone; discrete filter on gender.
var Filter = filter.Engine[*Patient]{
	SearchFields: func(p *Patient) []string {
		return []string{p.FirstName, p.LastName, p.Email, p.Phone}
	},
	FieldValue: func(p *Patient) string { return p.Gender },
}

// ValidGender reports whether g is one of the filterable gender values.
func ValidGender(g string) bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}
