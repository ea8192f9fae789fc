package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStdout runs fn and returns everything it wrote to stdout.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	runErr := fn()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String(), runErr
}

func TestOutputFilteredNoFilter(t *testing.T) {
	out, err := captureStdout(t, func() error {
		return outputFiltered(map[string]int{"count": 3}, "")
	})
	require.NoError(t, err)
	assert.Contains(t, out, `"count": 3`)
}

func TestOutputFilteredSelectsField(t *testing.T) {
	doc := map[string]interface{}{
		"name":  "Macallan 18",
		"price": 450.0,
	}

	out, err := captureStdout(t, func() error {
		return outputFiltered(doc, ".name")
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Macallan 18")
	assert.NotContains(t, out, "450")
}

func TestOutputFilteredIteratesArrays(t *testing.T) {
	docs := []map[string]interface{}{
		{"sig": "aaa"},
		{"sig": "bbb"},
	}

	out, err := captureStdout(t, func() error {
		return outputFiltered(docs, ".[].sig")
	})
	require.NoError(t, err)
	assert.Contains(t, out, "aaa")
	assert.Contains(t, out, "bbb")
}

func TestOutputFilteredBadExpression(t *testing.T) {
	_, err := captureStdout(t, func() error {
		return outputFiltered(map[string]int{}, ".[invalid")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")
}
