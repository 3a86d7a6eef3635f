package document

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

const csvPreviewRows = 10

var (
	ErrEmpty           = errors.New("document is empty")
	ErrTooLarge        = errors.New("document exceeds the upload size limit")
	ErrUnsupportedType = errors.New("unsupported document type")
	ErrInvalidEncoding = errors.New("document is not valid base64")
)

// Document is the text view of an upload.
type Document struct {
	Text      string
	MIME      string
	Extension string
	Size      int
}

// Decode undoes base64 transport encoding when asked. Whitespace in the
// encoded form is ignored.
func Decode(raw []byte, isBase64 bool) ([]byte, error) {
	if !isBase64 {
		return raw, nil
	}
	cleaned := bytes.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, raw)

	out := make([]byte, base64.StdEncoding.DecodedLen(len(cleaned)))
	n, err := base64.StdEncoding.Decode(out, cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return out[:n], nil
}

// CheckSize accepts exactly maxBytes and rejects anything larger.
func CheckSize(size, maxBytes int) error {
	if size == 0 {
		return ErrEmpty
	}
	if maxBytes > 0 && size > maxBytes {
		return fmt.Errorf("%w: %d bytes > %d bytes", ErrTooLarge, size, maxBytes)
	}
	return nil
}

// Extract sniffs the content type and returns its text. Only text based
// formats are accepted; CSV is rendered as its header and first rows.
func Extract(data []byte, filename string) (*Document, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	mime := mimetype.Detect(data)
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = mime.Extension()
	}

	doc := &Document{MIME: mime.String(), Extension: ext, Size: len(data)}

	switch {
	case mime.Is("text/csv") || ext == ".csv":
		text, err := renderCSV(data)
		if err != nil {
			return nil, err
		}
		doc.Text = text
	case isText(mime):
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrUnsupportedType)
		}
		doc.Text = string(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mime.String())
	}

	doc.Text = strings.TrimSpace(doc.Text)
	if doc.Text == "" {
		return nil, ErrEmpty
	}
	return doc, nil
}

func isText(mime *mimetype.MIME) bool {
	for m := mime; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func renderCSV(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return "", fmt.Errorf("%w: unreadable csv: %v", ErrUnsupportedType, err)
	}

	var b strings.Builder
	b.WriteString("Columns: ")
	b.WriteString(strings.Join(header, ", "))

	for i := 0; i < csvPreviewRows; i++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: unreadable csv: %v", ErrUnsupportedType, err)
		}
		b.WriteString("\n")
		pairs := make([]string, 0, len(row))
		for j, v := range row {
			if j < len(header) {
				pairs = append(pairs, header[j]+": "+v)
			} else {
				pairs = append(pairs, v)
			}
		}
		b.WriteString(strings.Join(pairs, "; "))
	}
	return b.String(), nil
}
