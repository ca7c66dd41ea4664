// Package template resolves the {{placeholders}} of a notification against an
// anchor enrollee and substitutes them into subject and body text.
package template

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"enrollment-notifier/internal/common/dateparse"
	"enrollment-notifier/internal/common/logger"
	"enrollment-notifier/internal/models"
	"enrollment-notifier/internal/repository"
)

// Variable names. Each is exposed in lower and UPPER case.
const (
	VarEnrollmentLink      = "enrollment_link"
	VarCoverageStartDate   = "coverage_start_date"
	VarFirstDayOfNextMonth = "first_day_of_next_month"
	VarDateToday           = "date_today"
	VarCertificationTable  = "certification_table"
	VarSubmissionTable     = "submission_table"
	VarFirstName           = "first_name"
	VarLastName            = "last_name"
	VarFullName            = "full_name"
	VarEmployeeID          = "employee_id"
	VarEnrollmentStatus    = "enrollment_status"
)

// LongDate is the layout of every date variable.
const LongDate = "January 2, 2006"

var placeholder = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Variables maps placeholder names to rendered values.
type Variables map[string]string

func (v Variables) set(key, value string) {
	v[strings.ToLower(key)] = value
	v[strings.ToUpper(key)] = value
}

// Repository is the read access the resolver needs.
type Repository interface {
	EnrolleeByID(ctx context.Context, id int64) (*models.Enrollee, error)
	FirstEnrollee(ctx context.Context, enrollmentID int64) (*models.Enrollee, error)
	LoadDependents(ctx context.Context, e *models.Enrollee) error
	EnrollmentByID(ctx context.Context, id int64) (*models.Enrollment, error)
}

// Context carries per-send data. CoverageStartDate overrides the anchor's
// insurance date when set.
type Context struct {
	EnrolleeID        *int64
	CoverageStartDate string
	Now               time.Time
}

type Resolver struct {
	repo        Repository
	frontendURL string
	logger      logger.Logger
}

func NewResolver(repo Repository, frontendURL string, log logger.Logger) *Resolver {
	return &Resolver{
		repo:        repo,
		frontendURL: SanitizeBaseURL(frontendURL),
		logger:      log.WithFields(map[string]interface{}{"component": "template"}),
	}
}

// SanitizeBaseURL forces a single https:// prefix and strips trailing slashes.
func SanitizeBaseURL(raw string) string {
	u := strings.TrimSpace(raw)
	for {
		lower := strings.ToLower(u)
		switch {
		case strings.HasPrefix(lower, "https://"):
			u = u[len("https://"):]
		case strings.HasPrefix(lower, "http://"):
			u = u[len("http://"):]
		default:
			u = strings.TrimRight(u, "/")
			if u == "" {
				return ""
			}
			return "https://" + u
		}
	}
}

// ResolveVariables picks the anchor enrollee (the context enrollee, else the
// first enrollee of the definition's enrollment) and renders all variables.
// Without an anchor only the date variables are filled.
func (r *Resolver) ResolveVariables(ctx context.Context, def models.NotificationDefinition, c Context) (Variables, error) {
	now := c.Now
	if now.IsZero() {
		now = time.Now()
	}

	vars := r.defaults(now, c.CoverageStartDate)

	anchor, err := r.anchor(ctx, def, c.EnrolleeID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		r.logger.Debug("no anchor enrollee, using default variables", map[string]interface{}{
			"notificationId": def.ID,
		})
		return vars, nil
	}

	if err := r.repo.LoadDependents(ctx, anchor); err != nil {
		return nil, fmt.Errorf("load dependents: %w", err)
	}

	base, expression, err := r.premiumBase(ctx, anchor)
	if err != nil {
		return nil, err
	}

	vars.set(VarEnrollmentLink, r.enrollmentLink(anchor.UUID))
	if c.CoverageStartDate == "" {
		vars.set(VarCoverageStartDate, coverageDate(anchor.HealthInsurance))
	}
	vars.set(VarCertificationTable, CertificationTable(*anchor))
	vars.set(VarSubmissionTable, SubmissionTable(*anchor, base, expression))
	vars.set(VarFirstName, anchor.FirstName)
	vars.set(VarLastName, anchor.LastName)
	vars.set(VarFullName, anchor.FullName())
	vars.set(VarEmployeeID, anchor.EmployeeID)
	vars.set(VarEnrollmentStatus, anchor.EnrollmentStatus)
	return vars, nil
}

func (r *Resolver) defaults(now time.Time, coverageOverride string) Variables {
	vars := Variables{}
	vars.set(VarEnrollmentLink, "")
	vars.set(VarCoverageStartDate, formatOverride(coverageOverride))
	vars.set(VarFirstDayOfNextMonth, time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, now.Location()).Format(LongDate))
	vars.set(VarDateToday, now.Format(LongDate))
	vars.set(VarCertificationTable, "")
	vars.set(VarSubmissionTable, "")
	for _, k := range []string{VarFirstName, VarLastName, VarFullName, VarEmployeeID, VarEnrollmentStatus} {
		vars.set(k, "")
	}
	return vars
}

func (r *Resolver) anchor(ctx context.Context, def models.NotificationDefinition, enrolleeID *int64) (*models.Enrollee, error) {
	if enrolleeID != nil {
		e, err := r.repo.EnrolleeByID(ctx, *enrolleeID)
		switch {
		case err == nil:
			return e, nil
		case !errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("load enrollee %d: %w", *enrolleeID, err)
		}
	}

	if def.EnrollmentID == 0 {
		return nil, nil
	}
	e, err := r.repo.FirstEnrollee(ctx, def.EnrollmentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load first enrollee of enrollment %d: %w", def.EnrollmentID, err)
	}
	return e, nil
}

// premiumBase applies the precedence: insurance premium, then enrollment
// premium when positive, then zero for company-paid insurance.
func (r *Resolver) premiumBase(ctx context.Context, e *models.Enrollee) (float64, string, error) {
	var base float64
	if e.HealthInsurance != nil && e.HealthInsurance.Premium > 0 {
		base = e.HealthInsurance.Premium
	}

	var expression string
	if e.EnrollmentID != 0 {
		en, err := r.repo.EnrollmentByID(ctx, e.EnrollmentID)
		switch {
		case err == nil:
			if en.Premium > 0 {
				base = en.Premium
			}
			expression = en.PremiumComputation
		case !errors.Is(err, repository.ErrNotFound):
			return 0, "", fmt.Errorf("load enrollment %d: %w", e.EnrollmentID, err)
		}
	}

	if e.HealthInsurance != nil && e.HealthInsurance.IsCompanyPaid {
		base = 0
	}
	return base, expression, nil
}

func (r *Resolver) enrollmentLink(uuid string) string {
	if r.frontendURL == "" || uuid == "" {
		return ""
	}
	return anchorTag(r.frontendURL + "/enrollment/" + uuid)
}

func coverageDate(hi *models.HealthInsurance) string {
	if hi == nil || hi.CoverageStartDate == nil {
		return ""
	}
	return hi.CoverageStartDate.Format(LongDate)
}

func formatOverride(raw string) string {
	if raw == "" {
		return ""
	}
	t, err := dateparse.Parse(raw, nil)
	if err != nil {
		return raw
	}
	return t.Format(LongDate)
}

// ReplaceVariables substitutes every {{key}} found in vars. A placeholder
// with no exact key falls back to a case-insensitive match; unknown
// placeholders are left as they are.
func ReplaceVariables(text string, vars Variables) string {
	if text == "" || len(vars) == 0 {
		return text
	}

	folded := make(map[string]string, len(vars))
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lk := strings.ToLower(k)
		if _, ok := folded[lk]; !ok || k == lk {
			folded[lk] = vars[k]
		}
	}

	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := m[2 : len(m)-2]
		if v, ok := vars[name]; ok {
			return v
		}
		if v, ok := folded[strings.ToLower(name)]; ok {
			return v
		}
		return m
	})
}
