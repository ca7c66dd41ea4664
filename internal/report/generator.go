// Package report builds the CSV exports attached to report notifications.
package report

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"enrollment-notifier/internal/models"
	"enrollment-notifier/internal/repository"
)

const bom = "\ufeff"

// Filter selects the enrollees of one enrollment to export.
type Filter struct {
	EnrollmentID   int64
	Status         string
	WithDependents bool
	From           *time.Time
	To             *time.Time
	Columns        []string
}

// Source is the read side of the repository used by the generator.
type Source interface {
	EnrolleesByStatus(ctx context.Context, q repository.StatusQuery) ([]models.Enrollee, error)
	LoadDependents(ctx context.Context, e *models.Enrollee) error
}

// Result is an encoded CSV. RowCount excludes the header.
type Result struct {
	Content  []byte
	RowCount int
}

type Generator struct {
	source Source
}

func NewGenerator(source Source) *Generator {
	return &Generator{source: source}
}

// Generate returns UTF-8 CSV with a byte order mark, CRLF line endings and
// every field double-quoted.
func (g *Generator) Generate(ctx context.Context, f Filter) (*Result, error) {
	columns := f.Columns
	if len(columns) == 0 {
		columns = AttachmentReportColumns
	}

	enrollees, err := g.source.EnrolleesByStatus(ctx, repository.StatusQuery{
		EnrollmentID: f.EnrollmentID,
		Status:       f.Status,
		From:         f.From,
		To:           f.To,
	})
	if err != nil {
		return nil, fmt.Errorf("load enrollees: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(bom)

	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = Label(c)
	}
	writeRecord(&buf, header)

	rows := 0
	record := make([]string, len(columns))
	for i := range enrollees {
		e := &enrollees[i]
		for j, c := range columns {
			record[j] = principalValue(*e, c)
		}
		writeRecord(&buf, record)
		rows++

		if !f.WithDependents {
			continue
		}
		if err := g.source.LoadDependents(ctx, e); err != nil {
			return nil, fmt.Errorf("load dependents of %d: %w", e.ID, err)
		}
		for _, d := range e.Dependents {
			for j, c := range columns {
				record[j] = dependentValue(*e, d, c)
			}
			writeRecord(&buf, record)
			rows++
		}
	}

	return &Result{Content: buf.Bytes(), RowCount: rows}, nil
}

func writeRecord(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(f, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteString("\r\n")
}

func strconvFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
