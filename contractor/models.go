package contractor

import "time"

// Profile captures the contractor data exposed via the public API layer.
type Profile struct {
	ID              string
	UserID          string
	CompanyName     string
	Description     *string
	Specialties     []string
	ExperienceYears *int
	Rating          float64
	ReviewCount     int
	Licenses        []string
	Insured         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type CreateParams struct {
	UserID          string
	CompanyName     string
	Description     *string
	Specialties     []string
	ExperienceYears *int
	Licenses        []string
	Insured         bool
}

// UpdateParams holds optional changes; nil fields are left untouched.
type UpdateParams struct {
	ID              string
	CompanyName     *string
	Description     *string
	Specialties     []string
	ExperienceYears *int
	Licenses        []string
	Insured         *bool
}
