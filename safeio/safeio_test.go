package safeio

import (
	"errors"
	"strings"
	"testing"
)

func TestSafePath(t *testing.T) {
	tests := []struct {
		base, input string
		wantErr     bool
	}{
		{"/data/specs", "enphase_iq8plus_spec.pdf", false},
		{"/data/blob", "projects/p1/permits/run_1.pdf", false},
		{"/data/specs", "../etc/passwd", true},
		{"/data/specs", "a/../../outside", true},
		{"/data/specs", "", true},
	}
	for _, tt := range tests {
		_, err := SafePath(tt.base, tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("SafePath(%q, %q) error=%v, wantErr=%v", tt.base, tt.input, err, tt.wantErr)
		}
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr error
	}{
		{"ftp://example.com/a.pdf", ErrUnsafeScheme},
		{"http://127.0.0.1/a.pdf", ErrSSRF},
		{"http://10.1.2.3/a.pdf", ErrSSRF},
		{"http://192.168.1.10/a.pdf", ErrSSRF},
		{"http://[::1]/a.pdf", ErrSSRF},
		{"https://8.8.8.8/datasheet.pdf", nil},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if tt.wantErr == nil && err != nil {
			t.Errorf("ValidateURL(%q) = %v, want nil", tt.url, err)
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Errorf("ValidateURL(%q) = %v, want %v", tt.url, err, tt.wantErr)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("%PDF-1.4"), 16)
	if err != nil || string(data) != "%PDF-1.4" {
		t.Fatalf("got %q, %v", data, err)
	}
	if _, err := LimitedReadAll(strings.NewReader(strings.Repeat("x", 32)), 16); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}
