package model

import (
	"regexp"
	"strings"

	"product-image-pipeline/internal/domain"
)

const MaxFileNameLength = 255

var fileNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// FileName is a flat, extension-bearing file name safe to use as a storage key segment.
type FileName struct {
	value string
}

// NewFileName validates s and reports every broken rule.
func NewFileName(s string) (FileName, error) {
	var c domain.Collector
	add := func(msg string) { c.Add("fileName", domain.CodeInvalidFileName, msg, s) }

	if strings.TrimSpace(s) == "" {
		add("must not be empty")
		return FileName{}, c.Err()
	}
	if len(s) > MaxFileNameLength {
		add("must be at most 255 characters")
	}
	if strings.ContainsAny(s, `/\`) {
		add("must not contain path separators")
	}
	if strings.Contains(s, "..") {
		add("must not contain parent directory segments")
	}
	if !fileNamePattern.MatchString(s) {
		add("may only contain letters, digits, '_', '-' and '.'")
	}
	if dot := strings.LastIndexByte(s, '.'); dot <= 0 || dot == len(s)-1 {
		add("must have an extension")
	}
	if err := c.Err(); err != nil {
		return FileName{}, err
	}
	return FileName{value: s}, nil
}

func (f FileName) String() string { return f.value }

func (f FileName) IsZero() bool { return f.value == "" }

// Extension returns the lower-cased extension without the dot.
func (f FileName) Extension() string {
	dot := strings.LastIndexByte(f.value, '.')
	if dot < 0 {
		return ""
	}
	return strings.ToLower(f.value[dot+1:])
}

// Stem returns the name without its extension.
func (f FileName) Stem() string {
	dot := strings.LastIndexByte(f.value, '.')
	if dot < 0 {
		return f.value
	}
	return f.value[:dot]
}

// WithPrefix returns a new FileName with prefix prepended.
func (f FileName) WithPrefix(prefix string) (FileName, error) {
	return NewFileName(prefix + f.value)
}
