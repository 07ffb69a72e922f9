package model

import (
	"encoding/json"
	"time"
)

// DateLayout is the wire and storage format of a patient's date of birth.
const DateLayout = "2006-01-02"

// Patient is a person whose X-rays are recorded. A patient belongs to the
// user who created it; other users only ever see it through shares.
type Patient struct {
	ID          uint64    `json:"id"`
	OwnerID     uint64    `json:"ownerUserId"`
	IDNumber    string    `json:"idNumber"`
	Name        string    `json:"name"`
	DateOfBirth time.Time `json:"-"`
	Gender      string    `json:"gender"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Age returns the patient's age in whole years at the given instant.
func (p *Patient) Age(now time.Time) int {
	if p.DateOfBirth.IsZero() {
		return 0
	}
	years := now.Year() - p.DateOfBirth.Year()
	if now.Month() < p.DateOfBirth.Month() ||
		(now.Month() == p.DateOfBirth.Month() && now.Day() < p.DateOfBirth.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// MarshalJSON renders the date of birth as YYYY-MM-DD and adds the derived age.
func (p Patient) MarshalJSON() ([]byte, error) {
	type plain Patient
	dob := ""
	if !p.DateOfBirth.IsZero() {
		dob = p.DateOfBirth.Format(DateLayout)
	}
	return json.Marshal(struct {
		plain
		DateOfBirth string `json:"dateOfBirth"`
		Age         int    `json:"age"`
	}{plain(p), dob, p.Age(time.Now())})
}
