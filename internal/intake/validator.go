// Package intake decides whether an uploaded file may be kept, based on its
// content alone.
package intake

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

// DefaultMaxBytes is the per-file upload ceiling.
const DefaultMaxBytes int64 = 5 << 20

var (
	ErrEmpty           = errors.New("file is empty")
	ErrTooLarge        = errors.New("file exceeds size limit")
	ErrUnsupportedType = errors.New("file type not allowed")
	ErrMalformedPDF    = errors.New("pdf structure is invalid")
)

// allowedTypes maps sniffed MIME types to the extension used on disk.
var allowedTypes = []struct {
	mime string
	ext  string
}{
	{"application/pdf", "pdf"},
	{"image/jpeg", "jpg"},
	{"image/png", "png"},
}

// Accepted is a file that passed intake. Data holds the full content.
type Accepted struct {
	Data []byte
	MIME string
	Ext  string
	Size int64
}

// Options tunes a Validator.
type Options struct {
	MaxBytes          int64
	CheckPDFStructure bool
}

// Validator applies the upload policy. It has no side effects and is safe for
// concurrent use.
type Validator struct {
	maxBytes int64
	checkPDF bool
}

// NewValidator returns a validator; MaxBytes <= 0 uses DefaultMaxBytes.
func NewValidator(opts Options) *Validator {
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Validator{maxBytes: maxBytes, checkPDF: opts.CheckPDFStructure}
}

// MaxBytes returns the configured ceiling.
func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// Validate reads r and classifies it. declaredSize is the size reported by the
// transport; a negative value means unknown. Client-declared content type and
// filename never take part in the decision.
func (v *Validator) Validate(r io.Reader, declaredSize int64) (Accepted, error) {
	if declaredSize > v.maxBytes {
		return Accepted{}, fmt.Errorf("%w: declared %d bytes", ErrTooLarge, declaredSize)
	}
	data, err := io.ReadAll(io.LimitReader(r, v.maxBytes+1))
	if err != nil {
		return Accepted{}, fmt.Errorf("read upload: %w", err)
	}
	size := int64(len(data))
	if size > v.maxBytes {
		return Accepted{}, fmt.Errorf("%w: read more than %d bytes", ErrTooLarge, v.maxBytes)
	}
	if size == 0 {
		return Accepted{}, ErrEmpty
	}

	detected := mimetype.Detect(data)
	mime, ext := "", ""
	for _, t := range allowedTypes {
		if detected.Is(t.mime) {
			mime, ext = t.mime, t.ext
			break
		}
	}
	if mime == "" {
		return Accepted{}, fmt.Errorf("%w: %s", ErrUnsupportedType, detected.String())
	}
	if mime == "application/pdf" && v.checkPDF {
		if err := checkPDF(data); err != nil {
			return Accepted{}, err
		}
	}
	return Accepted{Data: data, MIME: mime, Ext: ext, Size: size}, nil
}

// checkPDF opens the document and requires at least one page. The parser
// panics on some malformed input, so panics are reported as ErrMalformedPDF.
func checkPDF(data []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedPDF, rec)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPDF, err)
	}
	if reader.NumPage() < 1 {
		return fmt.Errorf("%w: no pages", ErrMalformedPDF)
	}
	return nil
}
