package models

import (
	"strings"
	"time"
)

// Enrollment statuses. Dependents may additionally be SKIPPED or OVERAGE.
const (
	StatusPending     = "PENDING"
	StatusSubmitted   = "SUBMITTED"
	StatusApproved    = "APPROVED"
	StatusForApproval = "FOR-APPROVAL"
	StatusSkipped     = "SKIPPED"
	StatusOverage     = "OVERAGE"

	RecordStatusActive   = "ACTIVE"
	RecordStatusInactive = "INACTIVE"
)

// Enrollment is the campaign an enrollee belongs to.
type Enrollment struct {
	ID                 int64   `json:"id"`
	Title              string  `json:"title"`
	Premium            float64 `json:"premium"`
	PremiumComputation string  `json:"premiumComputation,omitempty"`
}

type HealthInsurance struct {
	Premium           float64    `json:"premium"`
	IsCompanyPaid     bool       `json:"isCompanyPaid"`
	CoverageStartDate *time.Time `json:"coverageStartDate,omitempty"`
	CertificateNumber string     `json:"certificateNumber,omitempty"`
}

// Enrollee is a principal: the primary insured person of an enrollment.
type Enrollee struct {
	ID                int64            `json:"id"`
	UUID              string           `json:"uuid"`
	EmployeeID        string           `json:"employeeId"`
	FirstName         string           `json:"firstName"`
	MiddleName        string           `json:"middleName,omitempty"`
	LastName          string           `json:"lastName"`
	Email1            string           `json:"email1"`
	EnrollmentID      int64            `json:"enrollmentId"`
	EnrollmentStatus  string           `json:"enrollmentStatus"`
	CertificateNumber string           `json:"certificateNumber,omitempty"`
	UpdatedAt         time.Time        `json:"updatedAt"`
	DeletedAt         *time.Time       `json:"deletedAt,omitempty"`
	HealthInsurance   *HealthInsurance `json:"healthInsurance,omitempty"`
	Dependents        []Dependent      `json:"dependents,omitempty"`
}

func (e Enrollee) FullName() string {
	return joinName(e.FirstName, e.MiddleName, e.LastName)
}

func (e Enrollee) Deleted() bool { return e.DeletedAt != nil }

type Dependent struct {
	ID                int64            `json:"id"`
	PrincipalID       int64            `json:"principalId"`
	FirstName         string           `json:"firstName"`
	MiddleName        string           `json:"middleName,omitempty"`
	LastName          string           `json:"lastName"`
	Relation          string           `json:"relation"`
	EnrollmentStatus  string           `json:"enrollmentStatus"`
	Status            string           `json:"status"`
	IsSkipping        bool             `json:"isSkipping"`
	CertificateNumber string           `json:"certificateNumber,omitempty"`
	HealthInsurance   *HealthInsurance `json:"healthInsurance,omitempty"`
}

func (d Dependent) FullName() string {
	return joinName(d.FirstName, d.MiddleName, d.LastName)
}

// ExcludedFromPremium is true for dependents that do not consume a premium share.
func (d Dependent) ExcludedFromPremium() bool {
	if d.IsSkipping {
		return true
	}
	switch strings.ToUpper(d.EnrollmentStatus) {
	case StatusSkipped, StatusOverage:
		return true
	}
	return false
}

// Certificate returns the insurance certificate number, falling back to the
// dependent's own field.
func (d Dependent) Certificate() string {
	if d.HealthInsurance != nil && d.HealthInsurance.CertificateNumber != "" {
		return d.HealthInsurance.CertificateNumber
	}
	return d.CertificateNumber
}

// Certificate returns the insurance certificate number, falling back to the
// enrollee's own field.
func (e Enrollee) Certificate() string {
	if e.HealthInsurance != nil && e.HealthInsurance.CertificateNumber != "" {
		return e.HealthInsurance.CertificateNumber
	}
	return e.CertificateNumber
}

func joinName(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
