package worldinfo

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const MaxNameLen = 64

var ErrInvalidName = errors.New("invalid world name")

// ValidateName reports whether name is usable as a single storage path
// component. Names are compared byte-wise everywhere else, so they must already
// be in NFC form.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: not utf-8", ErrInvalidName)
	}
	if n := utf8.RuneCountInString(name); n > MaxNameLen {
		return fmt.Errorf("%w: %d runes exceeds %d", ErrInvalidName, n, MaxNameLen)
	}
	if name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidName, name)
	}
	if name != strings.TrimSpace(name) {
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidName, name)
	}
	if !norm.NFC.IsNormalString(name) {
		return fmt.Errorf("%w: %q is not NFC normalized", ErrInvalidName, name)
	}
	for _, r := range name {
		switch {
		case r == '/' || r == '\\':
			return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
		case unicode.IsControl(r):
			return fmt.Errorf("%w: %q contains a control character", ErrInvalidName, name)
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r):
		case r == '_' || r == '-' || r == '.' || r == ' ':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, r)
		}
	}
	return nil
}
