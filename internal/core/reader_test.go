package core

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestReadImportText(t *testing.T) {
	bom := []byte{0xEF, 0xBB, 0xBF}

	tests := []struct {
		name     string
		input    []byte
		max      int64
		expected string
		wantErr  error
	}{
		{
			name:     "file with BOM",
			input:    append(append([]byte{}, bom...), []byte("SKU,Name")...),
			expected: "SKU,Name",
		},
		{
			name:     "file without BOM",
			input:    []byte("SKU,Name"),
			expected: "SKU,Name",
		},
		{
			name:     "partial BOM kept",
			input:    []byte{0xEF, 0xBB, 'a'},
			expected: strings.ToValidUTF8(string([]byte{0xEF, 0xBB, 'a'}), "?"),
		},
		{
			name:     "invalid byte replaced",
			input:    []byte{'h', 'e', 0x80, 'l', 'o'},
			expected: "he?lo",
		},
		{
			name:    "empty file",
			input:   []byte{},
			wantErr: ErrEmptyFile,
		},
		{
			name:    "only BOM",
			input:   bom,
			wantErr: ErrEmptyFile,
		},
		{
			name:    "whitespace only",
			input:   []byte(" \n\t\n"),
			wantErr: ErrEmptyFile,
		},
		{
			name:     "within limit",
			input:    []byte("abc"),
			max:      3,
			expected: "abc",
		},
		{
			name:    "over limit",
			input:   []byte("abcd"),
			max:     3,
			wantErr: ErrFileTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadImportText(bytes.NewReader(tt.input), tt.max)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}
