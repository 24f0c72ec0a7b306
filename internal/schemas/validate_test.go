package schemas

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestNewValidator_CompilesAllSchemas(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	assert.Equal(t, []string{
		ADSBXAircraft,
		CourtListenerDocket,
		CourtListenerOpinion,
		GDELTEvent,
		OpenSkyState,
		SECCompanyFacts,
		USASpendingAward,
	}, v.Names())
}

func TestValidate_Records(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		record string
		valid  bool
	}{
		{"award ok", USASpendingAward, `{"Award ID": "A1", "Award Amount": 10.5, "Start Date": null}`, true},
		{"award missing id", USASpendingAward, `{"Award Amount": 10.5}`, false},
		{"award empty id", USASpendingAward, `{"Award ID": ""}`, false},
		{"sec ok", SECCompanyFacts, `{"cik": 923796, "entityName": "GEO Group", "facts": {"us-gaap": {}}}`, true},
		{"sec no facts", SECCompanyFacts, `{"cik": 923796}`, false},
		{"opinion ok", CourtListenerOpinion, `{"id": 42, "caseName": "Doe v. ICE"}`, true},
		{"opinion no id", CourtListenerOpinion, `{"caseName": "Doe v. ICE"}`, false},
		{"docket ok", CourtListenerDocket, `{"id": "7", "case_name": null}`, true},
		{"gdelt ok", GDELTEvent, `{"GLOBALEVENTID": "1100", "SQLDATE": "20240115"}`, true},
		{"gdelt bad date", GDELTEvent, `{"GLOBALEVENTID": "1100", "SQLDATE": "2024-01"}`, false},
		{"opensky short vector", OpenSkyState, `["abc123", "N802WA"]`, false},
		{"adsbx ok", ADSBXAircraft, `{"hex": "a1b2c3", "alt_baro": "ground"}`, true},
		{"adsbx no hex", ADSBXAircraft, `{"flight": "X"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.schema, decode(t, tt.record))
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var validationErr *ValidationError
			require.True(t, errors.As(err, &validationErr), "error should be ValidationError type")
			assert.Equal(t, tt.schema, validationErr.Schema)
			assert.NotEmpty(t, validationErr.Errors)
		})
	}
}

func TestValidate_OpenSkyFullVector(t *testing.T) {
	state := []any{"ab1234", "RPB123 ", "United States", 1700000000.0, 1700000005.0,
		-97.5, 32.8, 10668.0, false, 230.1, 181.0, 0.0, nil, 10900.0, "1200", false, 0.0}
	assert.NoError(t, Validate(OpenSkyState, state))
}

func TestValidate_MapOfStrings(t *testing.T) {
	row := map[string]string{"GLOBALEVENTID": "99", "SQLDATE": "20231001", "EventCode": "1031"}
	assert.NoError(t, Validate(GDELTEvent, row))
}

func TestValidate_UnknownSchema(t *testing.T) {
	err := Validate("nope", map[string]any{})
	require.Error(t, err)
	var loadErr *SchemaLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Contains(t, err.Error(), "unknown schema")
}

func TestValidationError_Format(t *testing.T) {
	err := &ValidationError{
		Schema: USASpendingAward,
		Errors: []FieldError{{Field: "(root)", Message: "Award ID is required"}},
	}
	assert.Equal(t, "usaspending_award validation failed: 1. (root): Award ID is required", err.Error())
}
