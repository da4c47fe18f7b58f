package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(INFO)
		SetRedactPII(true)
	})
	return &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestInfo_RedactsPII(t *testing.T) {
	buf := capture(t)

	Info("[campaign.Service] recipient added",
		"campaign_id", 42,
		"email", "john.doe@example.com",
		"phone", "+1 (555) 123-4567",
		"note", "contact jane@example.org later",
	)

	entry := decode(t, buf)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "[campaign.Service] recipient added", entry["msg"])
	assert.Equal(t, float64(42), entry["campaign_id"])
	assert.Equal(t, "jo***@example.com", entry["email"])
	assert.Equal(t, "********567", entry["phone"])
	assert.Equal(t, "contact ja***@example.org later", entry["note"])
}

func TestRedactionDisabled(t *testing.T) {
	buf := capture(t)
	SetRedactPII(false)

	Info("raw", "phone", "5551234567")
	assert.Equal(t, "5551234567", decode(t, buf)["phone"])
}

func TestLevelFilter(t *testing.T) {
	buf := capture(t)
	SetLevel(WARN)

	Info("dropped")
	assert.Zero(t, buf.Len())

	Error("kept", "error", errors.New("boom"))
	entry := decode(t, buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "boom", entry["error"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" WARNING "))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("loud"))
}

func TestRedactPhone(t *testing.T) {
	assert.Equal(t, "***", RedactPhone("12"))
	assert.Equal(t, "****567", RedactPhone("555-4567"))
}
