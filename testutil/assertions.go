package testutil

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

// AssertEqual checks if two values are equal
func AssertEqual(t *testing.T, expected, actual interface{}, msg string) {
	t.Helper()
	if expected != actual {
		t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// AssertNotEqual checks if two values are not equal
func AssertNotEqual(t *testing.T, expected, actual interface{}, msg string) {
	t.Helper()
	if expected == actual {
		t.Fatalf("%s: expected values to differ, both are %v", msg, expected)
	}
}

// AssertTrue checks if a condition is true
func AssertTrue(t *testing.T, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Fatalf("%s: expected true, got false", msg)
	}
}

// AssertFalse checks if a condition is false
func AssertFalse(t *testing.T, condition bool, msg string) {
	t.Helper()
	if condition {
		t.Fatalf("%s: expected false, got true", msg)
	}
}

// AssertNotNil checks if a value is not nil, including typed nil pointers
func AssertNotNil(t *testing.T, value interface{}, msg string) {
	t.Helper()
	if value == nil {
		t.Fatalf("%s: expected non-nil value", msg)
	}
	switch v := reflect.ValueOf(value); v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		if v.IsNil() {
			t.Fatalf("%s: expected non-nil value", msg)
		}
	}
}

// AssertNoError checks if an error is nil
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", msg, err)
	}
}

// AssertError checks if an error is not nil
func AssertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected an error but got nil", msg)
	}
}

// AssertErrorContains checks if an error contains a specific substring
func AssertErrorContains(t *testing.T, err error, substr string, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected an error but got nil", msg)
	}
	if !strings.Contains(err.Error(), substr) {
		t.Fatalf("%s: error %q does not contain %q", msg, err.Error(), substr)
	}
}

// AssertStringContains checks if a string contains a substring
func AssertStringContains(t *testing.T, str, substr string, msg string) {
	t.Helper()
	if !strings.Contains(str, substr) {
		t.Fatalf("%s: string %q does not contain %q", msg, str, substr)
	}
}

// AssertStringNotContains checks if a string does not contain a substring
func AssertStringNotContains(t *testing.T, str, substr string, msg string) {
	t.Helper()
	if strings.Contains(str, substr) {
		t.Fatalf("%s: string %q should not contain %q", msg, str, substr)
	}
}

// AssertJSONValid checks if a string is valid JSON
func AssertJSONValid(t *testing.T, jsonStr string, msg string) {
	t.Helper()
	var result interface{}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		t.Fatalf("%s: invalid JSON: %v", msg, err)
	}
}

// AssertJSONContainsKey checks if JSON contains a specific key
func AssertJSONContainsKey(t *testing.T, jsonStr, key string, msg string) {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		t.Fatalf("%s: invalid JSON: %v", msg, err)
	}

	if _, exists := result[key]; !exists {
		t.Fatalf("%s: JSON does not contain key %q", msg, key)
	}
}

// WaitForCondition waits for a condition to become true within timeout
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("%s: condition not met within %v", msg, timeout)
}

// MustUnmarshalJSON unmarshals JSON or fails the test
func MustUnmarshalJSON(t *testing.T, jsonStr string, target interface{}) {
	t.Helper()
	if err := json.Unmarshal([]byte(jsonStr), target); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}
}

