package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "enrollment-notifier/internal/common/errors"
	"enrollment-notifier/internal/models"
)

const principalColumns = `p.id, p.uuid, p.employee_id, p.first_name, p.middle_name, p.last_name, p.email1,
	p.enrollment_id, p.enrollment_status, p.certificate_number, p.updated_at,
	hi.premium, hi.is_company_paid, hi.coverage_start_date, hi.certificate_number`

const principalFrom = ` FROM principals p
	LEFT JOIN health_insurances hi ON hi.principal_id = p.id AND hi.dependent_id IS NULL`

const (
	queryEnrolleeByID = `SELECT ` + principalColumns + principalFrom + `
	WHERE p.id = $1 AND p.deleted_at IS NULL`

	queryFirstEnrollee = `SELECT ` + principalColumns + principalFrom + `
	WHERE p.enrollment_id = $1 AND p.deleted_at IS NULL ORDER BY p.id LIMIT 1`

	queryEnrolleesByStatus = `SELECT ` + principalColumns + principalFrom + `
	WHERE p.enrollment_id = $1 AND UPPER(p.enrollment_status) = UPPER($2) AND p.deleted_at IS NULL`

	queryDependents = `SELECT d.id, d.principal_id, d.first_name, d.middle_name, d.last_name, d.relation,
	d.enrollment_status, d.status, d.is_skipping, d.certificate_number,
	hi.premium, hi.is_company_paid, hi.coverage_start_date, hi.certificate_number
	FROM dependents d
	LEFT JOIN health_insurances hi ON hi.dependent_id = d.id
	WHERE d.principal_id = $1 AND d.deleted_at IS NULL ORDER BY d.id`

	queryEnrollmentByID = `SELECT id, title, premium, premium_computation FROM enrollments WHERE id = $1 AND deleted_at IS NULL`
)

// StatusQuery selects enrollees of one enrollment in a status, optionally
// bounded on updated_at (both ends inclusive).
type StatusQuery struct {
	EnrollmentID int64
	Status       string
	From         *time.Time
	To           *time.Time
}

type insuranceColumns struct {
	premium       sql.NullFloat64
	isCompanyPaid sql.NullBool
	coverageStart sql.NullTime
	certificate   sql.NullString
}

func (c insuranceColumns) toModel() *models.HealthInsurance {
	if !c.premium.Valid && !c.isCompanyPaid.Valid && !c.coverageStart.Valid && !c.certificate.Valid {
		return nil
	}
	return &models.HealthInsurance{
		Premium:           c.premium.Float64,
		IsCompanyPaid:     c.isCompanyPaid.Bool,
		CoverageStartDate: nullTime(c.coverageStart),
		CertificateNumber: nullString(c.certificate),
	}
}

func scanEnrollee(row rowScanner) (*models.Enrollee, error) {
	var (
		e                               models.Enrollee
		uuid, employeeID, middle, email sql.NullString
		status, certificate             sql.NullString
		enrollmentID                    sql.NullInt64
		ins                             insuranceColumns
	)
	if err := row.Scan(
		&e.ID, &uuid, &employeeID, &e.FirstName, &middle, &e.LastName, &email,
		&enrollmentID, &status, &certificate, &e.UpdatedAt,
		&ins.premium, &ins.isCompanyPaid, &ins.coverageStart, &ins.certificate,
	); err != nil {
		return nil, err
	}
	e.UUID = nullString(uuid)
	e.EmployeeID = nullString(employeeID)
	e.MiddleName = nullString(middle)
	e.Email1 = nullString(email)
	e.EnrollmentID = enrollmentID.Int64
	e.EnrollmentStatus = nullString(status)
	e.CertificateNumber = nullString(certificate)
	e.HealthInsurance = ins.toModel()
	return &e, nil
}

// EnrolleeByID returns a non-deleted principal or ErrNotFound.
func (s *Store) EnrolleeByID(ctx context.Context, id int64) (*models.Enrollee, error) {
	e, err := scanEnrollee(s.db.QueryRowContext(ctx, queryEnrolleeByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("enrollee by id", err)
	}
	return e, nil
}

// FirstEnrollee returns the lowest-id non-deleted principal of an enrollment.
func (s *Store) FirstEnrollee(ctx context.Context, enrollmentID int64) (*models.Enrollee, error) {
	e, err := scanEnrollee(s.db.QueryRowContext(ctx, queryFirstEnrollee, enrollmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("first enrollee", err)
	}
	return e, nil
}

func (s *Store) EnrolleesByStatus(ctx context.Context, q StatusQuery) ([]models.Enrollee, error) {
	var sb strings.Builder
	sb.WriteString(queryEnrolleesByStatus)
	args := []interface{}{q.EnrollmentID, q.Status}
	if q.From != nil {
		args = append(args, *q.From)
		fmt.Fprintf(&sb, " AND p.updated_at >= $%d", len(args))
	}
	if q.To != nil {
		args = append(args, *q.To)
		fmt.Fprintf(&sb, " AND p.updated_at <= $%d", len(args))
	}
	sb.WriteString(" ORDER BY p.id")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("enrollees by status", err)
	}
	defer rows.Close()

	var out []models.Enrollee
	for rows.Next() {
		e, err := scanEnrollee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollee: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Dependents lists the live dependents of a principal with their insurance.
func (s *Store) Dependents(ctx context.Context, principalID int64) ([]models.Dependent, error) {
	rows, err := s.db.QueryContext(ctx, queryDependents, principalID)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("dependents", err)
	}
	defer rows.Close()

	var out []models.Dependent
	for rows.Next() {
		var (
			d                               models.Dependent
			middle, relation, status, recSt sql.NullString
			certificate                     sql.NullString
			skipping                        sql.NullBool
			ins                             insuranceColumns
		)
		if err := rows.Scan(
			&d.ID, &d.PrincipalID, &d.FirstName, &middle, &d.LastName, &relation,
			&status, &recSt, &skipping, &certificate,
			&ins.premium, &ins.isCompanyPaid, &ins.coverageStart, &ins.certificate,
		); err != nil {
			return nil, fmt.Errorf("scan dependent: %w", err)
		}
		d.MiddleName = nullString(middle)
		d.Relation = nullString(relation)
		d.EnrollmentStatus = nullString(status)
		d.Status = nullString(recSt)
		d.IsSkipping = skipping.Bool
		d.CertificateNumber = nullString(certificate)
		d.HealthInsurance = ins.toModel()
		out = append(out, d)
	}
	return out, rows.Err()
}

// LoadDependents fills e.Dependents.
func (s *Store) LoadDependents(ctx context.Context, e *models.Enrollee) error {
	deps, err := s.Dependents(ctx, e.ID)
	if err != nil {
		return err
	}
	e.Dependents = deps
	return nil
}

func (s *Store) EnrollmentByID(ctx context.Context, id int64) (*models.Enrollment, error) {
	var (
		en          models.Enrollment
		title       sql.NullString
		premium     sql.NullFloat64
		computation sql.NullString
	)
	err := s.db.QueryRowContext(ctx, queryEnrollmentByID, id).Scan(&en.ID, &title, &premium, &computation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("enrollment by id", err)
	}
	en.Title = nullString(title)
	en.Premium = premium.Float64
	en.PremiumComputation = nullString(computation)
	return &en, nil
}
