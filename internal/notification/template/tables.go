package template

import (
	htmltemplate "html/template"
	"strings"

	"enrollment-notifier/internal/models"
	"enrollment-notifier/internal/notification/premium"
)

const principalLabel = "Principal"

const tableStyle = `border="1" cellpadding="6" cellspacing="0" style="border-collapse:collapse;font-family:Arial,sans-serif;font-size:13px"`

var tables = htmltemplate.Must(htmltemplate.New("tables").Parse(`
{{- define "certification" -}}
<table ` + tableStyle + `><thead><tr><th>Relation</th><th>Name</th><th>Certificate No.</th><th>Status</th></tr></thead><tbody>
{{- range . }}<tr><td>{{ .Relation }}</td><td>{{ .Name }}</td><td>{{ .Certificate }}</td><td>{{ .Status }}</td></tr>{{ end -}}
</tbody></table>
{{- end -}}

{{- define "submission" -}}
<table ` + tableStyle + `><thead><tr><th>Relation</th><th>Name</th><th>Status</th></tr></thead><tbody>
{{- range .Rows }}<tr><td>{{ .Relation }}</td><td>{{ .Name }}</td><td>{{ .Status }}</td></tr>{{ end -}}
</tbody></table>
{{- with .Premium }}
<p><strong>Premium Computation</strong></p>
<table ` + tableStyle + `><thead><tr><th>#</th><th>Dependent</th><th>Relation</th><th>Share</th><th>Annual Premium</th></tr></thead><tbody>
<tr><td colspan="3"><strong>Base Premium</strong> {{ .Base }}</td><td><strong>Annual</strong> {{ .Annual }}</td><td><strong>Monthly</strong> {{ .Monthly }}</td></tr>
{{- range .Rows }}<tr><td>{{ .Ordinal }}</td><td>{{ .Name }}</td><td>{{ .Relation }}</td><td>{{ .Percent }}</td><td>{{ .Amount }}</td></tr>{{ end -}}
</tbody></table>
{{- end -}}
{{- end -}}

{{- define "link" }}<a href="{{ . }}">{{ . }}</a>{{ end -}}
`))

type tableRow struct {
	Relation    string
	Name        string
	Certificate string
	Status      string
}

type premiumRow struct {
	Ordinal  int
	Name     string
	Relation string
	Percent  string
	Amount   string
}

type premiumBlock struct {
	Base    string
	Annual  string
	Monthly string
	Rows    []premiumRow
}

func render(name string, data interface{}) string {
	var sb strings.Builder
	if err := tables.ExecuteTemplate(&sb, name, data); err != nil {
		return ""
	}
	return sb.String()
}

func anchorTag(url string) string {
	return render("link", url)
}

// CertificationTable lists the principal and each dependent that is neither
// SKIPPED nor an INACTIVE record.
func CertificationTable(e models.Enrollee) string {
	rows := []tableRow{{
		Relation:    principalLabel,
		Name:        e.FullName(),
		Certificate: e.Certificate(),
		Status:      e.EnrollmentStatus,
	}}
	for _, d := range e.Dependents {
		if strings.EqualFold(d.EnrollmentStatus, models.StatusSkipped) ||
			strings.EqualFold(d.Status, models.RecordStatusInactive) {
			continue
		}
		rows = append(rows, tableRow{
			Relation:    d.Relation,
			Name:        d.FullName(),
			Certificate: d.Certificate(),
			Status:      d.EnrollmentStatus,
		})
	}
	return render("certification", rows)
}

// SubmissionTable lists the principal and every dependent. A dependent's
// status is shown only when OVERAGE or SKIPPED. The premium block follows
// when base is positive and there is at least one dependent.
func SubmissionTable(e models.Enrollee, base float64, expression string) string {
	data := struct {
		Rows    []tableRow
		Premium *premiumBlock
	}{
		Rows: []tableRow{{Relation: principalLabel, Name: e.FullName(), Status: e.EnrollmentStatus}},
	}

	members := make([]premium.Member, 0, len(e.Dependents))
	for _, d := range e.Dependents {
		status := "-"
		switch strings.ToUpper(d.EnrollmentStatus) {
		case models.StatusOverage, models.StatusSkipped:
			status = d.EnrollmentStatus
		}
		data.Rows = append(data.Rows, tableRow{Relation: d.Relation, Name: d.FullName(), Status: status})
		members = append(members, premium.Member{
			Name:     d.FullName(),
			Relation: d.Relation,
			Skipping: d.ExcludedFromPremium(),
		})
	}

	if base > 0 && len(e.Dependents) > 0 {
		// malformed pairs are dropped; the well-formed ones still apply
		b, _ := premium.ComputeString(members, base, expression)
		block := &premiumBlock{
			Base:    premium.FormatAmount(base),
			Annual:  premium.FormatAmount(b.Annual),
			Monthly: premium.FormatAmount(b.Monthly),
		}
		for _, r := range b.Rows {
			block.Rows = append(block.Rows, premiumRow{
				Ordinal:  r.Ordinal,
				Name:     r.Name,
				Relation: r.Relation,
				Percent:  premium.FormatPercent(r.Percent),
				Amount:   premium.FormatAmount(r.Amount),
			})
		}
		data.Premium = block
	}

	return render("submission", data)
}
