package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxFileSize is the largest file accepted (100MB).
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// DefaultRequiredAttributes must all be produced by the header row.
var DefaultRequiredAttributes = []string{"name", "quantity", "price"}

// HeaderResolver maps a CSV header to an attribute name.
type HeaderResolver interface {
	Resolve(header string) string
}

// SecurityGate checks a file before any data row is read.
type SecurityGate struct {
	MaxFileSize int64
	Required    []string
	AllowedDirs []string
}

// NewSecurityGate returns a gate with defaults for zero values.
func NewSecurityGate(maxFileSize int64, required, allowedDirs []string) *SecurityGate {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	if len(required) == 0 {
		required = DefaultRequiredAttributes
	}
	return &SecurityGate{MaxFileSize: maxFileSize, Required: required, AllowedDirs: allowedDirs}
}

// Validate runs the checks in order and returns the first failure as a
// *SecurityError: existence, size, extension, header row, then path
// confinement. Only the header row is read.
func (g *SecurityGate) Validate(path string, resolver HeaderResolver) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return g.fail(ReasonNotFound, path, "file not found")
		}
		return g.fail(ReasonNotFound, path, fmt.Sprintf("stat file: %v", err))
	}
	if !info.Mode().IsRegular() {
		return g.fail(ReasonNotFound, path, "not a regular file")
	}

	if info.Size() > g.MaxFileSize {
		return g.fail(ReasonTooLarge, path,
			fmt.Sprintf("file too large: %d bytes exceeds limit of %d bytes", info.Size(), g.MaxFileSize))
	}

	if filepath.Ext(path) != ".csv" {
		return g.fail(ReasonBadExtension, path, fmt.Sprintf("extension %q is not .csv", filepath.Ext(path)))
	}

	headers, err := readHeader(path)
	if err != nil {
		return g.fail(ReasonInvalidCSV, path, err.Error())
	}
	if missing := g.missing(headers, resolver); len(missing) > 0 {
		se := g.fail(ReasonMissingHeaders, path, "header check failed")
		se.Missing = missing
		return se
	}

	if err := g.confined(path); err != nil {
		return g.fail(ReasonPathNotAllowed, path, err.Error())
	}
	return nil
}

func (g *SecurityGate) missing(headers []string, resolver HeaderResolver) []string {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		if resolver != nil {
			present[resolver.Resolve(h)] = true
		} else {
			present[SnakeCase(h)] = true
		}
	}

	var missing []string
	for _, attr := range g.Required {
		if !present[attr] {
			missing = append(missing, attr)
		}
	}
	return missing
}

// confined resolves symlinks on both sides so a link inside an allowed
// directory cannot point outside it.
func (g *SecurityGate) confined(path string) error {
	if len(g.AllowedDirs) == 0 {
		return errors.New("path not allowed: no import directories configured")
	}

	resolved, err := realPath(path)
	if err != nil {
		return fmt.Errorf("path not allowed: %v", err)
	}

	for _, dir := range g.AllowedDirs {
		base, err := realPath(dir)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(base, resolved)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel) {
			return nil
		}
	}
	return fmt.Errorf("path not allowed: %s is outside the import directories", resolved)
}

func realPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func (g *SecurityGate) fail(reason SecurityReason, path, detail string) *SecurityError {
	return &SecurityError{Reason: reason, Path: path, Detail: detail}
}
