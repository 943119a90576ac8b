package frame

import (
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelasco/hydrolink/internal/testutils"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestFeedCompleteMessageInOneChunk(t *testing.T) {
	r := NewReassembler(quietLogger())
	payload := testutils.DefaultPayload().JSON()

	msgs := r.Feed(payload)

	require.Len(t, msgs, 1)
	assert.Equal(t, payload, msgs[0].Raw)
	assert.False(t, msgs[0].Recovered)
	assert.False(t, r.HasPartial())
}

func TestFeedReassemblesAcrossChunkSplits(t *testing.T) {
	payload := testutils.DefaultPayload().JSON()

	// Every split size down to single bytes must reproduce the message.
	for _, mtu := range []int{1, 3, 7, 20, 64} {
		r := NewReassembler(quietLogger())
		var got []Message
		for _, chunk := range testutils.Chunks(payload, mtu) {
			got = append(got, r.Feed(chunk)...)
		}
		require.Len(t, got, 1, "mtu=%d", mtu)
		assert.Equal(t, payload, got[0].Raw, "mtu=%d", mtu)
		assert.False(t, got[0].Recovered, "mtu=%d", mtu)
		assert.Equal(t, 0, r.Len(), "mtu=%d", mtu)
	}
}

func TestFeedDrainsConcatenatedMessages(t *testing.T) {
	r := NewReassembler(quietLogger())

	msgs := r.Feed(`{"tds":100}{"tds":200}{"tds":3`)

	require.Len(t, msgs, 2)
	assert.Equal(t, `{"tds":100}`, msgs[0].Raw)
	assert.Equal(t, `{"tds":200}`, msgs[1].Raw)
	assert.True(t, r.HasPartial())
}

func TestFeedDiscardsDebrisBeforeObjectStart(t *testing.T) {
	r := NewReassembler(quietLogger())

	msgs := r.Feed(`89abc"}noise{"tds":150,"vibration":0.5}`)

	require.Len(t, msgs, 1)
	assert.Equal(t, `{"tds":150,"vibration":0.5}`, msgs[0].Raw)
	assert.Equal(t, 0, r.Len())
}

func TestFeedHandlesNestedBraces(t *testing.T) {
	r := NewReassembler(quietLogger())
	payload := `{"tds":100,"meta":{"fw":"1.2"}}`

	msgs := r.Feed(payload)

	require.Len(t, msgs, 1)
	assert.Equal(t, payload, msgs[0].Raw)
}

func TestFeedBufferNeverExceedsHardCap(t *testing.T) {
	r := NewReassembler(quietLogger())

	// An endless unterminated object; no complete message ever forms.
	r.Feed(`{"junk":"`)
	for i := 0; i < 50; i++ {
		r.Feed(strings.Repeat("x", 40))
		assert.LessOrEqual(t, r.Len(), HardCap)
	}
}

func TestFeedOverflowRecoversExtractableFields(t *testing.T) {
	r := NewReassembler(quietLogger())

	var msgs []Message
	msgs = append(msgs, r.Feed(`{"tds":55.5,"vibration":1.25,`)...)
	msgs = append(msgs, r.Feed(strings.Repeat("z", HardCap))...)

	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Recovered)
	assert.Equal(t, 0, r.Len())

	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Raw), &fields))
	assert.Equal(t, 55.5, fields["tds"])
	assert.Equal(t, 1.25, fields["vibration"])
	assert.Equal(t, true, fields["recovered"])
}

func TestFeedOverflowWithoutExtractableFieldsDropsBuffer(t *testing.T) {
	r := NewReassembler(quietLogger())

	msgs := r.Feed(`{"junk":"` + strings.Repeat("y", HardCap+10))

	assert.Empty(t, msgs)
	assert.Equal(t, 0, r.Len())
}

func TestFlushRecoversTruncatedFrame(t *testing.T) {
	r := NewReassembler(quietLogger())

	msgs := r.Feed(`{"tds":123.4,"vibrat`)
	require.Empty(t, msgs)
	require.True(t, r.HasPartial())

	msg, ok := r.Flush()
	require.True(t, ok)
	assert.True(t, msg.Recovered)
	assert.False(t, r.HasPartial())

	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Raw), &fields))
	assert.Equal(t, 123.4, fields["tds"])
	_, hasVibration := fields["vibration"]
	assert.False(t, hasVibration, "truncated key must not be misread as a value")
}

func TestFlushCarriesQualityAndTimestamp(t *testing.T) {
	r := NewReassembler(quietLogger())
	r.Feed(`{"tds":350,"waterStatus":"Unsafe","timestamp":"987654","battery`)

	msg, ok := r.Flush()
	require.True(t, ok)

	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Raw), &fields))
	assert.Equal(t, float64(350), fields["tds"])
	assert.Equal(t, "Unsafe", fields["quality"])
	assert.Equal(t, float64(987654), fields["timestamp"])
}

func TestFlushIgnoresShortUnattributableNoise(t *testing.T) {
	r := NewReassembler(quietLogger())
	r.Feed(`{"garbled`)

	_, ok := r.Flush()
	assert.False(t, ok)
	assert.True(t, r.HasPartial(), "unrecovered data stays buffered")
}

func TestFlushEmptyBuffer(t *testing.T) {
	r := NewReassembler(quietLogger())

	_, ok := r.Flush()
	assert.False(t, ok)
}

func TestFlushDoesNotDestroyMidAssemblyFrame(t *testing.T) {
	// A frame paused mid-transfer must survive a premature flush attempt when
	// it has no extractable field yet, then complete normally.
	r := NewReassembler(quietLogger())
	payload := testutils.DefaultPayload().JSON()

	r.Feed(payload[:7]) // `{"tds":`
	_, ok := r.Flush()
	require.False(t, ok, "no complete field to extract yet")

	msgs := r.Feed(payload[7:])
	require.Len(t, msgs, 1)
	assert.Equal(t, payload, msgs[0].Raw)
	assert.False(t, msgs[0].Recovered)
}

func TestResetDiscardsBufferedData(t *testing.T) {
	r := NewReassembler(quietLogger())
	r.Feed(`{"tds":100,`)
	require.True(t, r.HasPartial())

	r.Reset()

	assert.False(t, r.HasPartial())
	_, ok := r.Flush()
	assert.False(t, ok)
}

func TestRecoveredMessageSurvivesQuotedNumbers(t *testing.T) {
	// The firmware quotes its timestamp; recovery must accept quoted numerics.
	r := NewReassembler(quietLogger())
	r.Feed(`{"tds":"275.5","vibration":"0.8","timestamp":"1700000000"`)

	msg, ok := r.Flush()
	require.True(t, ok)

	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Raw), &fields))
	assert.Equal(t, 275.5, fields["tds"])
	assert.Equal(t, 0.8, fields["vibration"])
}
