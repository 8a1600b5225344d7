package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DevaanshArora/complianceASC/internal/domain"
)

type fakeRunner struct {
	stdout []byte
	err    error
}

func (f *fakeRunner) Run(_ context.Context, _ string, _ ...string) ([]byte, []byte, error) {
	return f.stdout, nil, f.err
}

func TestExtractPagesPDF(t *testing.T) {
	l := New("", zaptest.NewLogger(t))
	l.runner = &fakeRunner{stdout: []byte("page one\fpage two\f\f")}

	pages, err := l.ExtractPages(context.Background(), "doc.pdf")
	require.NoError(t, err)

	require.Len(t, pages, 2)
	assert.Equal(t, "page one", pages[0].Text)
	assert.Equal(t, 0, pages[0].Index)
	assert.Equal(t, "page two", pages[1].Text)
	assert.Equal(t, 1, pages[1].Index)
}

func TestExtractPagesPDFFailure(t *testing.T) {
	l := New("", zaptest.NewLogger(t))
	l.runner = &fakeRunner{err: errors.New("exit status 1")}

	_, err := l.ExtractPages(context.Background(), "doc.pdf")
	assert.ErrorIs(t, err, domain.ErrDocumentUnreadable)
}

func TestExtractPagesPDFNoText(t *testing.T) {
	l := New("", zaptest.NewLogger(t))
	l.runner = &fakeRunner{stdout: []byte(" \f \f ")}

	_, err := l.ExtractPages(context.Background(), "doc.pdf")
	assert.ErrorIs(t, err, domain.ErrDocumentUnreadable)
}

func TestExtractPagesPlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("some policy text"), 0o644))

	pages, err := New("", zaptest.NewLogger(t)).ExtractPages(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, pages, 1)
	assert.Equal(t, "some policy text", pages[0].Text)
}

func TestExtractPagesUnsupportedType(t *testing.T) {
	_, err := New("", zaptest.NewLogger(t)).ExtractPages(context.Background(), "doc.docx")
	assert.ErrorIs(t, err, domain.ErrDocumentUnreadable)
}
