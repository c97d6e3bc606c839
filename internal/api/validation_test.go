package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	rules := []Rule{
		{Field: "name", Required: true, Type: TypeString, MinLength: 2, MaxLength: 5},
		{Field: "count", Type: TypeNumber, Min: Bound(1), Max: Bound(10)},
		{Field: "tags", Type: TypeArray},
		{Field: "code", Type: TypeString, Pattern: regexp.MustCompile(`^[A-Z]+$`)},
		{Field: "even", Type: TypeNumber, Custom: func(v interface{}) error {
			if int(v.(float64))%2 != 0 {
				return errors.New("even must be even")
			}
			return nil
		}},
	}

	tests := []struct {
		name string
		data map[string]interface{}
		want []string
	}{
		{"valid", map[string]interface{}{"name": "abc", "count": 3.0, "tags": []interface{}{}, "code": "AB", "even": 4.0}, nil},
		{"missing", map[string]interface{}{}, []string{"name is required"}},
		{"empty string is missing", map[string]interface{}{"name": ""}, []string{"name is required"}},
		{"wrong type", map[string]interface{}{"name": 5.0, "tags": "x"}, []string{
			"name must be of type string",
			"tags must be of type array",
		}},
		{"length", map[string]interface{}{"name": "a"}, []string{"name must be at least 2 characters long"}},
		{"too long", map[string]interface{}{"name": "abcdef"}, []string{"name must be at most 5 characters long"}},
		{"range", map[string]interface{}{"name": "ab", "count": 0.5}, []string{"count must be at least 1"}},
		{"range max", map[string]interface{}{"name": "ab", "count": 11.0}, []string{"count must be at most 10"}},
		{"pattern", map[string]interface{}{"name": "ab", "code": "ab"}, []string{"code format is invalid"}},
		{"custom", map[string]interface{}{"name": "ab", "even": 3.0}, []string{"even must be even"}},
		{"null optional", map[string]interface{}{"name": "ab", "count": nil}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.data, rules))
		})
	}
}

func TestBindValidated(t *testing.T) {
	e := echo.New()

	t.Run("decodes on success", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message":"hi"}`))
		c := e.NewContext(req, httptest.NewRecorder())

		var dst struct {
			Message string `json:"message"`
		}
		require.NoError(t, bindValidated(c, chatRules, &dst))
		assert.Equal(t, "hi", dst.Message)
	})

	t.Run("reports every failure", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"filePath":"","silenceThresholdMs":-1}`))
		c := e.NewContext(req, httptest.NewRecorder())

		err := bindValidated(c, transcribeRules, nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
		assert.Equal(t, map[string]interface{}{"errors": []string{
			"filePath is required",
			"silenceThresholdMs must be at least 0",
		}}, apiErr.Details)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message":`))
		c := e.NewContext(req, httptest.NewRecorder())

		err := bindValidated(c, chatRules, nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "BAD_REQUEST", apiErr.Code)
	})
}

func TestValidateQuery(t *testing.T) {
	assert.NoError(t, validateQuery(url.Values{"since": {"10"}, "wait": {"true"}}, logQueryRules))

	err := validateQuery(url.Values{"since": {"abc"}, "limit": {"5000"}, "level": {"loud"}}, logQueryRules)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, map[string]interface{}{"errors": []string{
		"since must be of type number",
		"limit must be at most 1000",
		"level must be one of debug, info, warning, error",
	}}, apiErr.Details)
}
