package schemas_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
)

// TestStructJSONTags pins the wire names clients depend on.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "CookieRecord",
			structRef: schemas.CookieRecord{},
			expectedTags: map[string]string{
				"Name":           "name",
				"Value":          "value",
				"Domain":         "domain",
				"Path":           "path,omitempty",
				"Expires":        "expires,omitempty",
				"HTTPOnly":       "httpOnly",
				"Secure":         "secure",
				"SameSite":       "sameSite,omitempty",
				"InvalidExpires": "-",
			},
		},
		{
			name:      "InjectionReport",
			structRef: schemas.InjectionReport{},
			expectedTags: map[string]string{
				"Processed":          "processed",
				"Valid":              "valid",
				"Injected":           "injected",
				"Failed":             "failed",
				"ValidationFailures": "validationFailures",
				"InjectionFailures":  "injectionFailures",
				"Recommendations":    "recommendations",
				"LoggedIn":           "loggedIn",
				"Success":            "success",
				"FinalURL":           "finalUrl,omitempty",
			},
		},
		{
			name:      "SessionStatus",
			structRef: schemas.SessionStatus{},
			expectedTags: map[string]string{
				"LoggedIn":      "logged_in",
				"SessionValid":  "session_valid",
				"SessionExpiry": "session_expiry,omitempty",
				"BrowserType":   "browser_type,omitempty",
				"LoginMethod":   "login_method,omitempty",
				"CookieCount":   "cookie_count,omitempty",
				"SessionID":     "session_id,omitempty",
				"Record":        "record,omitempty",
			},
		},
		{
			name:      "Task",
			structRef: schemas.Task{},
			expectedTags: map[string]string{
				"TaskID":    "task_id",
				"Type":      "type",
				"Status":    "status",
				"Timeout":   "timeout",
				"CreatedAt": "created_at",
				"UpdatedAt": "updated_at",
				"Deadline":  "deadline",
				"Result":    "result,omitempty",
				"Error":     "error,omitempty",
			},
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			typ := reflect.TypeOf(tt.structRef)
			assert.Equal(t, len(tt.expectedTags), typ.NumField(), "field count drifted for %s", tt.name)
			for fieldName, expectedTag := range tt.expectedTags {
				field, ok := typ.FieldByName(fieldName)
				if assert.True(t, ok, "field %s not found in %s", fieldName, tt.name) {
					assert.Equal(t, expectedTag, field.Tag.Get("json"), "json tag mismatch for %s.%s", tt.name, fieldName)
				}
			}
		})
	}
}
