// Package recipient turns the to/cc/bcc of a send request into concrete
// envelopes. Three addressing modes are recognised: a list of enrollee ids,
// a status query over the notification's enrollment, and literal addresses.
package recipient

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"enrollment-notifier/internal/common/dateparse"
	apperrors "enrollment-notifier/internal/common/errors"
	"enrollment-notifier/internal/common/logger"
	"enrollment-notifier/internal/models"
	"enrollment-notifier/internal/repository"

	"github.com/asaskevich/govalidator"
)

type Mode string

const (
	ModeEnrolleeID Mode = "enrollee_id"
	ModeStatus     Mode = "status"
	ModeEmail      Mode = "email"
)

var idList = regexp.MustCompile(`^\s*\d+(\s*,\s*\d+)*\s*$`)

// Request is a send request. A request with no addresses and no status
// filter falls back to the definition's own to/cc/bcc. DateFrom/DateTo are
// whole days; Since/Until are exact bounds and take precedence.
type Request struct {
	To             string     `json:"to,omitempty"`
	CC             string     `json:"cc,omitempty"`
	BCC            string     `json:"bcc,omitempty"`
	EnrolleeStatus string     `json:"enrolleeStatus,omitempty"`
	DateFrom       string     `json:"dateFrom,omitempty"`
	DateTo         string     `json:"dateTo,omitempty"`
	Since          *time.Time `json:"since,omitempty"`
	Until          *time.Time `json:"until,omitempty"`
	SendAsMultiple bool       `json:"sendAsMultiple,omitempty"`
}

// Envelope is one outgoing message. EnrolleeID is set when the content must
// be rendered for that enrollee.
type Envelope struct {
	To         []string `json:"to"`
	CC         []string `json:"cc,omitempty"`
	BCC        []string `json:"bcc,omitempty"`
	EnrolleeID *int64   `json:"enrolleeId,omitempty"`
}

// Label identifies the envelope in per-recipient results.
func (e Envelope) Label() string {
	return strings.Join(e.To, ",")
}

type Failure struct {
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}

type Resolution struct {
	Mode      Mode       `json:"mode"`
	Envelopes []Envelope `json:"envelopes"`
	Failures  []Failure  `json:"failures,omitempty"`
	// Split is set when literal addresses were sent individually.
	Split bool `json:"split,omitempty"`
}

// Batch reports whether the resolution is a set of individual sends whose
// outcome is carried per recipient rather than by the overall flag.
func (r *Resolution) Batch() bool {
	return r.Mode != ModeEmail || r.Split
}

// Bulk reports whether the resolution is a single multi-recipient message.
func (r *Resolution) Bulk() bool {
	return r.Mode == ModeEmail && len(r.Envelopes) == 1 && len(r.Envelopes[0].To) > 1
}

type Repository interface {
	EnrolleeByID(ctx context.Context, id int64) (*models.Enrollee, error)
	EnrolleesByStatus(ctx context.Context, q repository.StatusQuery) ([]models.Enrollee, error)
}

type Resolver struct {
	repo   Repository
	logger logger.Logger
}

func NewResolver(repo Repository, log logger.Logger) *Resolver {
	return &Resolver{
		repo:   repo,
		logger: log.WithFields(map[string]interface{}{"component": "recipient"}),
	}
}

// DetectMode applies the mode priority: numeric id list, then status, then
// literal addresses.
func DetectMode(req Request) Mode {
	switch {
	case idList.MatchString(req.To):
		return ModeEnrolleeID
	case strings.TrimSpace(req.EnrolleeStatus) != "":
		return ModeStatus
	default:
		return ModeEmail
	}
}

func (r *Resolver) Resolve(ctx context.Context, req Request, def models.NotificationDefinition) (*Resolution, error) {
	if req.EnrolleeStatus == "" && req.To == "" && req.CC == "" && req.BCC == "" {
		req.To, req.CC, req.BCC = def.To, def.CC, def.BCC
	}

	mode := DetectMode(req)
	r.logger.Debug("resolving recipients", map[string]interface{}{
		"notificationId": def.ID,
		"mode":           string(mode),
	})

	switch mode {
	case ModeEnrolleeID:
		return r.byIDs(ctx, req)
	case ModeStatus:
		return r.byStatus(ctx, req, def)
	default:
		return r.byEmail(req)
	}
}

func (r *Resolver) byIDs(ctx context.Context, req Request) (*Resolution, error) {
	res := &Resolution{Mode: ModeEnrolleeID}
	cc, _ := ParseList(req.CC)
	bcc, _ := ParseList(req.BCC)

	for _, raw := range strings.Split(req.To, ",") {
		raw = strings.TrimSpace(raw)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			res.Failures = append(res.Failures, Failure{Recipient: raw, Reason: "invalid enrollee id"})
			continue
		}

		e, err := r.repo.EnrolleeByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			res.Failures = append(res.Failures, Failure{Recipient: raw, Reason: "enrollee not found"})
			continue
		}
		if err != nil {
			r.logger.Warn("enrollee lookup failed", map[string]interface{}{"enrolleeId": id, "error": err})
			res.Failures = append(res.Failures, Failure{Recipient: raw, Reason: err.Error()})
			continue
		}
		if f, ok := r.envelopeFor(e, cc, bcc); ok {
			res.Envelopes = append(res.Envelopes, f)
		} else {
			res.Failures = append(res.Failures, Failure{Recipient: raw, Reason: "enrollee has no valid email"})
		}
	}
	return res, nil
}

func (r *Resolver) byStatus(ctx context.Context, req Request, def models.NotificationDefinition) (*Resolution, error) {
	q := repository.StatusQuery{
		EnrollmentID: def.EnrollmentID,
		Status:       strings.TrimSpace(req.EnrolleeStatus),
		From:         req.Since,
		To:           req.Until,
	}
	if q.From == nil && req.DateFrom != "" {
		d, err := dateparse.Parse(req.DateFrom, nil)
		if err != nil {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("dateFrom: %v", err))
		}
		from := dateparse.StartOfDay(d)
		q.From = &from
	}
	if q.To == nil && req.DateTo != "" {
		d, err := dateparse.Parse(req.DateTo, nil)
		if err != nil {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("dateTo: %v", err))
		}
		to := dateparse.EndOfDay(d)
		q.To = &to
	}

	enrollees, err := r.repo.EnrolleesByStatus(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(enrollees) == 0 {
		return nil, apperrors.NewNoStatusMatchesError(q.Status)
	}

	res := &Resolution{Mode: ModeStatus}
	cc, _ := ParseList(req.CC)
	bcc, _ := ParseList(req.BCC)
	for i := range enrollees {
		e := &enrollees[i]
		if f, ok := r.envelopeFor(e, cc, bcc); ok {
			res.Envelopes = append(res.Envelopes, f)
		} else {
			res.Failures = append(res.Failures, Failure{
				Recipient: strconv.FormatInt(e.ID, 10),
				Reason:    "enrollee has no valid email",
			})
		}
	}
	return res, nil
}

func (r *Resolver) envelopeFor(e *models.Enrollee, cc, bcc []string) (Envelope, bool) {
	email := strings.TrimSpace(e.Email1)
	if email == "" || !govalidator.IsEmail(email) {
		return Envelope{}, false
	}
	id := e.ID
	return Envelope{To: []string{email}, CC: cc, BCC: bcc, EnrolleeID: &id}, true
}

func (r *Resolver) byEmail(req Request) (*Resolution, error) {
	to, rejected := ParseList(req.To)
	cc, rejectedCC := ParseList(req.CC)
	bcc, rejectedBCC := ParseList(req.BCC)

	res := &Resolution{Mode: ModeEmail}
	for _, list := range [][]string{rejected, rejectedCC, rejectedBCC} {
		for _, a := range list {
			res.Failures = append(res.Failures, Failure{Recipient: a, Reason: "invalid email address"})
		}
	}

	if len(to) == 0 {
		return nil, apperrors.NewNoValidRecipientsError(fmt.Sprintf("to: %q", req.To))
	}

	if !req.SendAsMultiple {
		res.Envelopes = []Envelope{{To: to, CC: cc, BCC: bcc}}
		return res, nil
	}
	res.Split = true
	for _, addr := range to {
		res.Envelopes = append(res.Envelopes, Envelope{To: []string{addr}, CC: cc, BCC: bcc})
	}
	return res, nil
}

// ParseList splits a comma-separated address list. Blank entries are dropped
// silently; syntactically invalid ones are returned as rejected.
func ParseList(s string) (valid, rejected []string) {
	s = strings.TrimRight(strings.TrimSpace(s), ", ")
	if s == "" {
		return nil, nil
	}
	for _, part := range strings.Split(s, ",") {
		addr := strings.TrimSpace(part)
		if addr == "" {
			continue
		}
		if govalidator.IsEmail(addr) {
			valid = append(valid, addr)
		} else {
			rejected = append(rejected, addr)
		}
	}
	return valid, rejected
}
