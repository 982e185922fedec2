package config

import (
	"errors"
	"fmt"
)

var (
	// ErrFileNotFound is returned when a required config file is absent.
	ErrFileNotFound = errors.New("config file not found")

	// ErrUnsupportedFormat is returned for extensions other than .toml,
	// .yaml and .yml.
	ErrUnsupportedFormat = errors.New("unsupported config format")

	// ErrValidationFailed matches every *ValidationError via errors.Is.
	ErrValidationFailed = errors.New("invalid configuration")
)

// ParseError reports a config file that could not be decoded.
type ParseError struct {
	Path string
	// Line is 1-based, or 0 when the decoder gave no position.
	Line    int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("%s: line %d: %s", e.Path, e.Line, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError describes one rejected setting.
type ValidationError struct {
	// Path is the dotted setting name, or the environment variable that
	// carried the value.
	Path    string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Path, e.Message, e.Value)
}

// Is makes errors.Is(err, ErrValidationFailed) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}
