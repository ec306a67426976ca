package intake

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

var (
	pngMagic  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	jpegMagic = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
	pdfMagic  = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n%%EOF\n")
)

func TestValidateAcceptsAllowedTypes(t *testing.T) {
	v := NewValidator(Options{})
	cases := []struct {
		name string
		data []byte
		mime string
		ext  string
	}{
		{"pdf", pdfMagic, "application/pdf", "pdf"},
		{"png", pngMagic, "image/png", "png"},
		{"jpeg", jpegMagic, "image/jpeg", "jpg"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := v.Validate(bytes.NewReader(tc.data), int64(len(tc.data)))
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if got.MIME != tc.mime || got.Ext != tc.ext {
				t.Fatalf("got %s/%s, want %s/%s", got.MIME, got.Ext, tc.mime, tc.ext)
			}
			if got.Size != int64(len(tc.data)) || !bytes.Equal(got.Data, tc.data) {
				t.Fatalf("content not preserved")
			}
		})
	}
}

func TestValidateRejectsDisguisedText(t *testing.T) {
	v := NewValidator(Options{})
	data := []byte("this is plain text pretending to be invoice.pdf\n")
	_, err := v.Validate(bytes.NewReader(data), int64(len(data)))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestValidateRejectsOversized(t *testing.T) {
	v := NewValidator(Options{})
	big := append(append([]byte{}, pdfMagic...), bytes.Repeat([]byte{'a'}, 6<<20)...)

	if _, err := v.Validate(bytes.NewReader(big), int64(len(big))); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("declared size: expected ErrTooLarge, got %v", err)
	}
	// Understated size must still be caught on the bytes actually read.
	if _, err := v.Validate(bytes.NewReader(big), 100); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("read size: expected ErrTooLarge, got %v", err)
	}
}

func TestValidateAcceptsExactlyMax(t *testing.T) {
	v := NewValidator(Options{MaxBytes: 64})
	data := append(append([]byte{}, pngMagic...), bytes.Repeat([]byte{0}, 64-len(pngMagic))...)
	if _, err := v.Validate(bytes.NewReader(data), -1); err != nil {
		t.Fatalf("file at the limit should pass: %v", err)
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	v := NewValidator(Options{})
	if _, err := v.Validate(bytes.NewReader(nil), 0); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestValidatePDFStructure(t *testing.T) {
	v := NewValidator(Options{CheckPDFStructure: true})
	good := minimalPDF()
	got, err := v.Validate(bytes.NewReader(good), int64(len(good)))
	if err != nil {
		t.Fatalf("well-formed pdf rejected: %v", err)
	}
	if got.Ext != "pdf" {
		t.Fatalf("ext = %q", got.Ext)
	}

	if _, err := v.Validate(bytes.NewReader(pdfMagic), int64(len(pdfMagic))); !errors.Is(err, ErrMalformedPDF) {
		t.Fatalf("expected ErrMalformedPDF for header-only pdf, got %v", err)
	}
}

// minimalPDF builds a one-page document with a correct xref table.
func minimalPDF() []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return []byte(strings.TrimSpace(buf.String()) + "\n")
}
