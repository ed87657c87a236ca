package json

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalKeepsNumbers(t *testing.T) {
	var v map[string]interface{}
	require.NoError(t, Unmarshal([]byte(`{"id": 12345678901234567890, "amount": 1.10}`), &v))

	assert.Equal(t, Number("12345678901234567890"), v["id"])
	assert.Equal(t, Number("1.10"), v["amount"])
}

func TestMarshalToWriterDoesNotEscapeHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, MarshalToWriter(&buf, map[string]string{"a": "<b>"}))
	assert.Equal(t, "{\"a\":\"<b>\"}\n", buf.String())
}

func TestBufferPool(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString("data")
	PutBuffer(buf)

	again := GetBuffer()
	assert.Equal(t, 0, again.Len())
}
