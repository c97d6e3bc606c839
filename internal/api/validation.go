// validation.go - Rule checklist applied to request bodies and queries
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
)

// Value types understood by Rule.Type.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
)

// Rule describes the checks applied to one field.
type Rule struct {
	Field     string
	Required  bool
	Type      string
	MinLength int
	MaxLength int
	Min       *float64
	Max       *float64
	Pattern   *regexp.Regexp
	// Custom returns a non-nil error whose message is reported as-is.
	Custom func(value interface{}) error
}

// Bound is a helper for Rule.Min and Rule.Max.
func Bound(v float64) *float64 { return &v }

// Validate applies rules to data and returns every failure message.
func Validate(data map[string]interface{}, rules []Rule) []string {
	var errs []string

	for _, rule := range rules {
		value, present := data[rule.Field]

		if rule.Required && (!present || value == nil || value == "") {
			errs = append(errs, fmt.Sprintf("%s is required", rule.Field))
			continue
		}
		if !present || value == nil {
			continue
		}

		if rule.Type != "" && typeOf(value) != rule.Type {
			errs = append(errs, fmt.Sprintf("%s must be of type %s", rule.Field, rule.Type))
			continue
		}

		switch v := value.(type) {
		case string:
			n := utf8.RuneCountInString(v)
			if rule.MinLength > 0 && n < rule.MinLength {
				errs = append(errs, fmt.Sprintf("%s must be at least %d characters long", rule.Field, rule.MinLength))
			}
			if rule.MaxLength > 0 && n > rule.MaxLength {
				errs = append(errs, fmt.Sprintf("%s must be at most %d characters long", rule.Field, rule.MaxLength))
			}
			if rule.Pattern != nil && !rule.Pattern.MatchString(v) {
				errs = append(errs, fmt.Sprintf("%s format is invalid", rule.Field))
			}
		case float64:
			if rule.Min != nil && v < *rule.Min {
				errs = append(errs, fmt.Sprintf("%s must be at least %s", rule.Field, formatNumber(*rule.Min)))
			}
			if rule.Max != nil && v > *rule.Max {
				errs = append(errs, fmt.Sprintf("%s must be at most %s", rule.Field, formatNumber(*rule.Max)))
			}
		}

		if rule.Custom != nil {
			if err := rule.Custom(value); err != nil {
				msg := err.Error()
				if msg == "" {
					msg = fmt.Sprintf("%s failed custom validation", rule.Field)
				}
				errs = append(errs, msg)
			}
		}
	}

	return errs
}

func typeOf(value interface{}) string {
	switch value.(type) {
	case string:
		return TypeString
	case float64, json.Number:
		return TypeNumber
	case bool:
		return TypeBoolean
	case []interface{}:
		return TypeArray
	case map[string]interface{}:
		return TypeObject
	default:
		return fmt.Sprintf("%T", value)
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// bindValidated reads the JSON body, applies rules and, when they pass,
// decodes the body into dst.
func bindValidated(c echo.Context, rules []Rule, dst interface{}) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return NewBadRequestError("failed to read request body", err)
	}

	data := map[string]interface{}{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return NewBadRequestError("invalid JSON body", err)
		}
	}

	if errs := Validate(data, rules); len(errs) > 0 {
		return NewValidationError(errs...)
	}

	if dst != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, dst); err != nil {
			return NewBadRequestError("invalid JSON body", err)
		}
	}
	return nil
}

// validateQuery applies rules to query parameters. Values declared as
// numbers or booleans are converted before checking.
func validateQuery(values url.Values, rules []Rule) error {
	data := make(map[string]interface{}, len(values))
	for key := range values {
		data[key] = values.Get(key)
	}
	for _, rule := range rules {
		s, ok := data[rule.Field].(string)
		if !ok || s == "" {
			continue
		}
		switch rule.Type {
		case TypeNumber:
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				data[rule.Field] = f
			}
		case TypeBoolean:
			if b, err := strconv.ParseBool(s); err == nil {
				data[rule.Field] = b
			}
		}
	}

	if errs := Validate(data, rules); len(errs) > 0 {
		return NewValidationError(errs...)
	}
	return nil
}
