// Package attachment materializes notification attachments and generated
// CSV reports as local temp files for the mail transports.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "enrollment-notifier/internal/common/errors"
	"enrollment-notifier/internal/common/logger"
	"enrollment-notifier/internal/models"
	"enrollment-notifier/internal/report"

	"github.com/google/uuid"
)

type Store interface {
	NotificationAttachments(ctx context.Context, notificationID int64) ([]models.Attachment, error)
}

type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type ReportGenerator interface {
	Generate(ctx context.Context, f report.Filter) (*report.Result, error)
}

// Ref points at an object in storage and the name it is sent under.
type Ref struct {
	Key  string
	Name string
}

// File is a local temp file ready to attach.
type File struct {
	Path        string
	DisplayName string
}

// Bundle owns the temp files of one delivery.
type Bundle struct {
	Files []File
	once  sync.Once
}

// Cleanup removes every temp file. Safe to call more than once and on nil.
func (b *Bundle) Cleanup() {
	if b == nil {
		return
	}
	b.once.Do(func() {
		for _, f := range b.Files {
			_ = RemoveTemp(f.Path)
		}
	})
}

// Report is a generated CSV on disk. RowCount excludes the header.
type Report struct {
	Path        string
	DisplayName string
	HasData     bool
	RowCount    int
}

func (r *Report) File() File {
	return File{Path: r.Path, DisplayName: r.DisplayName}
}

func (r *Report) Cleanup() {
	if r != nil {
		_ = RemoveTemp(r.Path)
	}
}

// RemoveTemp deletes p. A file that is already gone is not an error.
func RemoveTemp(p string) error {
	if p == "" {
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type Assembler struct {
	store   Store
	objects ObjectStore
	reports ReportGenerator
	tempDir string
	logger  logger.Logger
	now     func() time.Time
}

func NewAssembler(store Store, objects ObjectStore, reports ReportGenerator, tempDir string, log logger.Logger) *Assembler {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Assembler{
		store:   store,
		objects: objects,
		reports: reports,
		tempDir: tempDir,
		logger:  log.WithFields(map[string]interface{}{"component": "attachment"}),
		now:     time.Now,
	}
}

// ForNotification lists the stored files linked to a notification.
func (a *Assembler) ForNotification(ctx context.Context, notificationID int64) ([]Ref, error) {
	atts, err := a.store.NotificationAttachments(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	refs := make([]Ref, 0, len(atts))
	for _, att := range atts {
		name := att.FileName
		if name == "" {
			name = path.Base(att.FilePath)
		}
		refs = append(refs, Ref{Key: att.FilePath, Name: name})
	}
	return refs, nil
}

// Materialize downloads each ref into the temp dir. Blocked extensions get
// ".txt" appended to both the display name and the stored file. On error
// every file written so far is removed.
func (a *Assembler) Materialize(ctx context.Context, refs []Ref, blocked []string) (*Bundle, error) {
	bundle := &Bundle{}
	if len(refs) == 0 {
		return bundle, nil
	}
	set := blockedSet(blocked)

	for _, ref := range refs {
		data, err := a.objects.Get(ctx, ref.Key)
		if err != nil {
			bundle.Cleanup()
			return nil, apperrors.NewStorageFetchFailedError(ref.Key, err)
		}

		display := SafeName(sanitizeFileName(ref.Name), set)
		p := filepath.Join(a.tempDir, uuid.NewString()+"-"+display)
		if err := os.WriteFile(p, data, 0o600); err != nil {
			bundle.Cleanup()
			return nil, fmt.Errorf("write temp attachment: %w", err)
		}
		bundle.Files = append(bundle.Files, File{Path: p, DisplayName: display})
	}

	a.logger.Debug("attachments materialized", map[string]interface{}{"count": len(bundle.Files)})
	return bundle, nil
}

// GenerateCSV writes the report for f to a temp file. It returns nil when
// the generator produced nothing at all; callers must still check HasData.
func (a *Assembler) GenerateCSV(ctx context.Context, f report.Filter) (*Report, error) {
	res, err := a.reports.Generate(ctx, f)
	if err != nil {
		return nil, apperrors.NewReportGenerationFailedError(err)
	}
	if res == nil || len(res.Content) == 0 {
		return nil, nil
	}

	status := strings.ToLower(strings.ReplaceAll(f.Status, "-", "_"))
	if status == "" {
		status = "enrollees"
	}
	display := fmt.Sprintf("%s_report_%s.csv", status, a.now().Format("2006-01-02"))
	p := filepath.Join(a.tempDir, uuid.NewString()+"-"+display)
	if err := os.WriteFile(p, res.Content, 0o600); err != nil {
		return nil, apperrors.NewReportGenerationFailedError(err)
	}

	return &Report{
		Path:        p,
		DisplayName: display,
		HasData:     res.RowCount > 0,
		RowCount:    res.RowCount,
	}, nil
}

func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "attachment"
	}
	return name
}
