package loader

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DevaanshArora/complianceASC/internal/domain"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger *zap.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		r.logger.Error("exec failed",
			zap.String("cmd", name),
			zap.Strings("args", args),
			zap.Duration("duration", dur),
			zap.Error(err),
			zap.String("stderr", truncate(errb.String(), 8<<10)),
		)
	} else {
		r.logger.Debug("exec ok",
			zap.String("cmd", name),
			zap.Strings("args", args),
			zap.Duration("duration", dur),
			zap.Int("stdout_bytes", out.Len()),
		)
	}

	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// Loader reads uploaded documents into per-page text. PDF files go
// through the pdftotext binary; plain text files are read directly as a
// single page.
type Loader struct {
	pdftotext string
	runner    Runner
	logger    *zap.Logger
}

// New creates a loader. An empty binary name falls back to "pdftotext"
// resolved from PATH.
func New(pdftotext string, logger *zap.Logger) *Loader {
	if pdftotext == "" {
		pdftotext = "pdftotext"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		pdftotext: pdftotext,
		runner:    execRunner{logger: logger},
		logger:    logger,
	}
}

// ExtractPages reads the document at path into pages (implements
// domain.PageExtractor). Unreadable or empty documents return
// domain.ErrDocumentUnreadable.
func (l *Loader) ExtractPages(ctx context.Context, path string) ([]domain.Page, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return l.extractPDF(ctx, path)
	case ".txt":
		return l.extractText(path)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", domain.ErrDocumentUnreadable, ext)
	}
}

func (l *Loader) extractPDF(ctx context.Context, path string) ([]domain.Page, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, _, err := l.runner.Run(ctx, l.pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return nil, fmt.Errorf("%w: pdftotext: %v", domain.ErrDocumentUnreadable, err)
	}

	// A form-feed \f is used as page separator by default.
	raw := strings.Split(string(out), "\f")
	pages := make([]domain.Page, 0, len(raw))
	for i, text := range raw {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, domain.Page{Index: i, Text: text})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no extractable text", domain.ErrDocumentUnreadable)
	}

	l.logger.Debug("pdf extracted",
		zap.String("path", path),
		zap.Int("pages", len(pages)),
	)
	return pages, nil
}

func (l *Loader) extractText(path string) ([]domain.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDocumentUnreadable, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, fmt.Errorf("%w: no extractable text", domain.ErrDocumentUnreadable)
	}
	return []domain.Page{{Index: 0, Text: string(data)}}, nil
}

// Verify that Loader implements domain.PageExtractor
var _ domain.PageExtractor = (*Loader)(nil)
