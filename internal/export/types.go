// Package export renders a persona version as a PDF or DOCX file.
package export

import "errors"

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts the format names used in query strings.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(raw); f {
	case FormatPDF, FormatDOCX:
		return f, nil
	}
	return "", ErrUnsupportedFormat
}

// Request selects the persona to export. Version 0 exports the current one.
type Request struct {
	Project string
	Type    string
	Name    string
	Version int
	Format  Format
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrNotFound          = errors.New("export persona not found")
	ErrUnsupportedFormat = errors.New("export format not supported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
