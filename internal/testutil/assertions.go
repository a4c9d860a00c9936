// Package testutil provides common test utilities and assertions.
package testutil

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertJSONEqual compares two JSON strings for equality, ignoring formatting
func AssertJSONEqual(t *testing.T, expected, actual string, msgAndArgs ...interface{}) {
	t.Helper()

	var expectedJSON, actualJSON interface{}
	require.NoError(t, json.Unmarshal([]byte(expected), &expectedJSON), "expected JSON is invalid")
	require.NoError(t, json.Unmarshal([]byte(actual), &actualJSON), "actual JSON is invalid")

	assert.Equal(t, expectedJSON, actualJSON, msgAndArgs...)
}

// RequireErrorAs asserts that err has an E in its chain and returns it.
func RequireErrorAs[E error](t *testing.T, err error, msgAndArgs ...interface{}) E {
	t.Helper()

	var target E
	require.Error(t, err, msgAndArgs...)
	require.True(t, errors.As(err, &target), "error %q is not a %T", err, target)
	return target
}

// AssertMapContains asserts that a map contains all expected key-value pairs
func AssertMapContains(t *testing.T, expectedMap, actualMap map[string]interface{}, msgAndArgs ...interface{}) {
	t.Helper()

	for key, expectedValue := range expectedMap {
		actualValue, ok := actualMap[key]
		assert.True(t, ok, "map should contain key %q", key)
		assert.Equal(t, expectedValue, actualValue, msgAndArgs...)
	}
}
