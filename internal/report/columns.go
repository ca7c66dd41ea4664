package report

import (
	"strings"
	"time"

	"enrollment-notifier/internal/models"
)

// Labels maps column keys to the header shown in exported files.
var Labels = map[string]string{
	"employee_id":         "Employee ID",
	"first_name":          "First Name",
	"middle_name":         "Middle Name",
	"last_name":           "Last Name",
	"full_name":           "Full Name",
	"email1":              "Email",
	"relation":            "Relation",
	"enrollment_status":   "Enrollment Status",
	"certificate_number":  "Certificate Number",
	"coverage_start_date": "Coverage Start Date",
	"premium":             "Premium",
	"updated_at":          "Last Updated",
}

// AttachmentReportColumns is the column set mailed by the attachment reports.
var AttachmentReportColumns = []string{
	"employee_id",
	"last_name",
	"first_name",
	"middle_name",
	"relation",
	"enrollment_status",
	"certificate_number",
	"email1",
	"updated_at",
}

// Label returns the header for key, falling back to a title-cased key.
func Label(key string) string {
	if l, ok := Labels[key]; ok {
		return l
	}
	words := strings.Split(key, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

const dateLayout = "2006-01-02"

func principalValue(e models.Enrollee, key string) string {
	switch key {
	case "employee_id":
		return e.EmployeeID
	case "first_name":
		return e.FirstName
	case "middle_name":
		return e.MiddleName
	case "last_name":
		return e.LastName
	case "full_name":
		return e.FullName()
	case "email1":
		return e.Email1
	case "relation":
		return "PRINCIPAL"
	case "enrollment_status":
		return e.EnrollmentStatus
	case "certificate_number":
		return e.Certificate()
	case "coverage_start_date":
		return insuranceDate(e.HealthInsurance)
	case "premium":
		return insurancePremium(e.HealthInsurance)
	case "updated_at":
		if e.UpdatedAt.IsZero() {
			return ""
		}
		return e.UpdatedAt.Format(time.DateTime)
	}
	return ""
}

// dependentValue fills principal-level columns from the owning principal.
func dependentValue(p models.Enrollee, d models.Dependent, key string) string {
	switch key {
	case "first_name":
		return d.FirstName
	case "middle_name":
		return d.MiddleName
	case "last_name":
		return d.LastName
	case "full_name":
		return d.FullName()
	case "email1":
		return ""
	case "relation":
		return d.Relation
	case "enrollment_status":
		return d.EnrollmentStatus
	case "certificate_number":
		return d.Certificate()
	case "coverage_start_date":
		return insuranceDate(d.HealthInsurance)
	case "premium":
		return insurancePremium(d.HealthInsurance)
	}
	return principalValue(p, key)
}

func insuranceDate(hi *models.HealthInsurance) string {
	if hi == nil || hi.CoverageStartDate == nil {
		return ""
	}
	return hi.CoverageStartDate.Format(dateLayout)
}

func insurancePremium(hi *models.HealthInsurance) string {
	if hi == nil {
		return ""
	}
	return strconvFloat(hi.Premium)
}
