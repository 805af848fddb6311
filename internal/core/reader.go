package core

// reader.go turns an uploaded file into text for ParseCSV. Spreadsheet
// exports often start with a UTF-8 BOM and legacy encodings leave invalid
// bytes; both are cleaned here so the first header and every field compare
// as expected.

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// limitedReader fails with ErrFileTooLarge once more than max bytes are read.
type limitedReader struct {
	r    io.Reader
	max  int64
	read int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.max {
		return n, fmt.Errorf("%w: exceeds %d bytes", ErrFileTooLarge, l.max)
	}
	return n, err
}

// skipBOM drops a leading UTF-8 byte order mark.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// ReadImportText reads an upload of at most maxBytes (unlimited when
// maxBytes <= 0), drops a leading BOM and replaces invalid UTF-8 with '?'.
// An upload with no non-whitespace content is ErrEmptyFile.
func ReadImportText(r io.Reader, maxBytes int64) (string, error) {
	if maxBytes > 0 {
		r = &limitedReader{r: r, max: maxBytes}
	}

	raw, err := io.ReadAll(skipBOM(r))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}

	text := string(raw)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "?")
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyFile
	}
	return text, nil
}
