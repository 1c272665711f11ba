package core

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validCSV = "name,quantity,price\nWidget,10,5.00\n"

func securityReason(t *testing.T, err error) SecurityReason {
	t.Helper()
	var se *SecurityError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v (%T), want *SecurityError", err, err)
	}
	return se.Reason
}

func TestSecurityGate_Accepts(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "items.csv", validCSV)

	gate := NewSecurityGate(0, nil, []string{dir})
	if err := gate.Validate(path, nil); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestSecurityGate_Rejects(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()

	tests := []struct {
		name    string
		path    string
		maxSize int64
		want    SecurityReason
	}{
		{
			name: "missing file",
			path: filepath.Join(dir, "nope.csv"),
			want: ReasonNotFound,
		},
		{
			name: "directory",
			path: dir,
			want: ReasonNotFound,
		},
		{
			name:    "too large",
			path:    writeFile(t, dir, "big.csv", validCSV),
			maxSize: 10,
			want:    ReasonTooLarge,
		},
		{
			name: "wrong extension",
			path: writeFile(t, dir, "items.txt", validCSV),
			want: ReasonBadExtension,
		},
		{
			name: "uppercase extension",
			path: writeFile(t, dir, "items.CSV", validCSV),
			want: ReasonBadExtension,
		},
		{
			name: "empty file",
			path: writeFile(t, dir, "empty.csv", ""),
			want: ReasonInvalidCSV,
		},
		{
			name: "missing headers",
			path: writeFile(t, dir, "partial.csv", "name,quantity\nWidget,10\n"),
			want: ReasonMissingHeaders,
		},
		{
			name: "outside allowed directory",
			path: writeFile(t, outside, "items.csv", validCSV),
			want: ReasonPathNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewSecurityGate(tt.maxSize, nil, []string{dir})
			err := gate.Validate(tt.path, nil)
			if got := securityReason(t, err); got != tt.want {
				t.Errorf("reason = %s, want %s (%v)", got, tt.want, err)
			}
		})
	}
}

func TestSecurityGate_MissingHeadersListed(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "partial.csv", "Name\nWidget\n")

	err := NewSecurityGate(0, nil, []string{dir}).Validate(path, nil)

	var se *SecurityError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *SecurityError", err)
	}
	if strings.Join(se.Missing, ",") != "quantity,price" {
		t.Errorf("Missing = %v, want [quantity price]", se.Missing)
	}
	if !strings.Contains(err.Error(), "missing required headers: quantity, price") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestSecurityGate_UsesResolver(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mapped.csv", "Title,Qty,Cost\nWidget,10,5\n")
	gate := NewSecurityGate(0, nil, []string{dir})

	if err := gate.Validate(path, nil); err == nil {
		t.Fatal("Validate() without mapping should fail")
	}

	mapper, err := NewRowMapper(map[string]string{"Title": "name", "Qty": "quantity", "Cost": "price"}, nil, false)
	if err != nil {
		t.Fatalf("NewRowMapper() error = %v", err)
	}
	if err := gate.Validate(path, mapper); err != nil {
		t.Errorf("Validate() with mapping error = %v", err)
	}
}

func TestSecurityGate_NoAllowedDirs(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "items.csv", validCSV)

	err := NewSecurityGate(0, nil, nil).Validate(path, nil)
	if got := securityReason(t, err); got != ReasonPathNotAllowed {
		t.Errorf("reason = %s, want %s", got, ReasonPathNotAllowed)
	}
}

func TestSecurityGate_SymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	target := writeFile(t, outside, "secret.csv", validCSV)

	link := filepath.Join(dir, "link.csv")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	err := NewSecurityGate(0, nil, []string{dir}).Validate(link, nil)
	if got := securityReason(t, err); got != ReasonPathNotAllowed {
		t.Errorf("reason = %s, want %s", got, ReasonPathNotAllowed)
	}
}

func TestSecurityGate_Subdirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "incoming")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, sub, "items.csv", validCSV)

	if err := NewSecurityGate(0, nil, []string{dir}).Validate(path, nil); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
