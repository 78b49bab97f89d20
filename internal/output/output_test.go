package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_StatusWithIcon(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Status("🔍", "searching")
	assert.Equal(t, "🔍 searching\n", buf.String())
}

func TestWriter_StatusWithoutIconIndents(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Status("", "detail line")
	assert.Equal(t, "   detail line\n", buf.String())
}

func TestWriter_Statusf(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Statusf("🔍", "found %d results", 3)
	assert.Contains(t, buf.String(), "found 3 results")
}

func TestWriter_SuccessAndError(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Success("indexed")
	w.Errorf("failed: %s", "boom")
	out := buf.String()
	assert.Contains(t, out, "✅ indexed")
	assert.Contains(t, out, "❌ failed: boom")
}

func TestWriter_Newline(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Newline()
	assert.Equal(t, "\n", buf.String())
}
