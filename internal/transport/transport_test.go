package transport

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeChunkBase64Payload(t *testing.T) {
	payload := `{"tds":245.2,"quality":"Clean"}`
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))

	assert.Equal(t, payload, DecodeChunk([]byte(encoded)))
}

func TestDecodeChunkRawJSONPassesThrough(t *testing.T) {
	payload := `{"tds":245.2,"quality":"Clean"}`

	assert.Equal(t, payload, DecodeChunk([]byte(payload)))
}

func TestDecodeChunkRawFragment(t *testing.T) {
	// Short fragments are not valid base64 and must come through untouched.
	for _, chunk := range []string{`{"tds":2`, `45.2,"qu`, `ality":"`, `}`} {
		assert.Equal(t, chunk, DecodeChunk([]byte(chunk)), "chunk=%q", chunk)
	}
}

func TestDecodeChunkRejectsGarbageDecoding(t *testing.T) {
	// "deadbeef" is valid base64 but decodes to binary garbage; the raw text
	// must be kept.
	assert.Equal(t, "deadbeef", DecodeChunk([]byte("deadbeef")))
}

func TestDecodeChunkKeepsMarkerlessCoincidentalBase64(t *testing.T) {
	// "YWJj" is a plausible raw fragment and also valid base64 of "abc";
	// since the decoding carries no JSON marker, the raw text must survive.
	assert.Equal(t, "YWJj", DecodeChunk([]byte("YWJj")))
}

func TestDecodeChunkEmpty(t *testing.T) {
	assert.Equal(t, "", DecodeChunk(nil))
}

func TestNormalizeUUID(t *testing.T) {
	assert.Equal(t,
		"12345678123412341234123456789abc",
		NormalizeUUID("12345678-1234-1234-1234-123456789ABC"))
	assert.Equal(t, "180f", NormalizeUUID("180F"))
}
