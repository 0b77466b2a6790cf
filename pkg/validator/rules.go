package validator

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// RequiredString validates that a string is not empty after trimming whitespace.
func RequiredString(field, value string) Rule {
	return Rule{
		Check: func() bool {
			return strings.TrimSpace(value) != ""
		},
		Error: ValidationError{Field: field, Message: "field is required"},
	}
}

func MaxLenString(field, value string, max int) Rule {
	return Rule{
		Check: func() bool {
			return utf8.RuneCountInString(value) <= max
		},
		Error: ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be at most %d characters long", max),
		},
	}
}

// ValidUUID validates standard UUID format with pre-validation to avoid expensive parsing.
func ValidUUID(field, value string) Rule {
	return Rule{
		Check: func() bool {
			// Fast rejection: check length and hyphen positions before parsing
			if len(value) != 36 {
				return false
			}
			if value[8] != '-' || value[13] != '-' || value[18] != '-' || value[23] != '-' {
				return false
			}

			_, err := uuid.Parse(value)
			return err == nil
		},
		Error: ValidationError{Field: field, Message: "must be a valid UUID"},
	}
}

// OneOf validates that value is one of options. An empty value passes so it
// can be combined with RequiredString for mandatory fields.
func OneOf[T ~string](field string, value T, options []T) Rule {
	return Rule{
		Check: func() bool {
			return value == "" || slices.Contains(options, value)
		},
		Error: ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be one of: %v", options),
		},
	}
}

func RequiredSlice[T any](field string, value []T) Rule {
	return Rule{
		Check: func() bool {
			return len(value) > 0
		},
		Error: ValidationError{Field: field, Message: "field is required"},
	}
}

func MaxLenSlice[T any](field string, value []T, max int) Rule {
	return Rule{
		Check: func() bool {
			return len(value) <= max
		},
		Error: ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must contain at most %d items", max),
		},
	}
}

// When applies rule only if cond holds.
func When(cond bool, rule Rule) Rule {
	if cond {
		return rule
	}
	return Rule{Check: func() bool { return true }}
}
