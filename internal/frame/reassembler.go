// Package frame reconstructs discrete JSON sensor messages from the
// fragmented, lossy notification stream a BLE peripheral produces. Chunks are
// folded into a bounded text accumulator; complete objects are recognized by
// structural brace matching, and garbled or truncated tails can be salvaged by
// per-field pattern extraction.
package frame

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// SoftThreshold is the buffer length beyond which a stalled buffer is
	// considered worth a partial-recovery attempt.
	SoftThreshold = 100

	// HardCap bounds the accumulator. A buffer that reaches it with no
	// complete message is recovered if possible and cleared regardless;
	// losing data is acceptable, unbounded growth is not.
	HardCap = 1000
)

// Message is one reconstructed sensor message. Raw is the JSON text; Recovered
// marks messages synthesized from a partial payload rather than cleanly
// reassembled.
type Message struct {
	Raw       string
	Recovered bool
}

// Field extraction patterns for partial recovery. These match against the raw
// buffer text, deliberately ignoring JSON structure: a truncated frame has no
// structure left to honor. Numeric values may be quoted (the firmware quotes
// its timestamp).
var (
	tdsPattern       = regexp.MustCompile(`"tds"\s*:\s*"?(-?\d+(?:\.\d+)?)`)
	vibrationPattern = regexp.MustCompile(`"vibration"\s*:\s*"?(-?\d+(?:\.\d+)?)`)
	qualityPattern   = regexp.MustCompile(`"(?:quality|waterStatus)"\s*:\s*"([^"]+)"`)
	timestampPattern = regexp.MustCompile(`"timestamp"\s*:\s*"?(\d+)`)

	// keyMarkers indicate a buffer holds at least a fragment of a sensor
	// payload, as opposed to unattributable noise.
	keyMarkers = []string{`"tds":`, `"vibration":`, `"quality":`, `"waterStatus":`}
)

// Reassembler converts a sequence of text chunks into complete JSON-object
// strings. It is not safe for concurrent use; the session layer feeds it one
// chunk at a time, in arrival order.
type Reassembler struct {
	buf    string
	soft   int
	hard   int
	logger *logrus.Logger
}

// NewReassembler creates a Reassembler with the default buffer limits.
func NewReassembler(logger *logrus.Logger) *Reassembler {
	return NewReassemblerWithLimits(logger, SoftThreshold, HardCap)
}

// NewReassemblerWithLimits creates a Reassembler with explicit soft and hard
// buffer limits.
func NewReassemblerWithLimits(logger *logrus.Logger, soft, hard int) *Reassembler {
	if logger == nil {
		logger = logrus.New()
	}
	if soft <= 0 {
		soft = SoftThreshold
	}
	if hard <= soft {
		hard = HardCap
	}
	return &Reassembler{soft: soft, hard: hard, logger: logger}
}

// Feed appends a chunk to the buffer and returns every complete message it can
// drain, in stream order. Text preceding a recognized object start is
// unattributable fragment debris and is discarded. If the buffer would exceed
// HardCap with no complete message, a partial recovery is attempted and the
// buffer is cleared either way.
func (r *Reassembler) Feed(chunk string) []Message {
	r.buf += chunk

	var out []Message
	for {
		raw, rest, found := extractObject(r.buf)
		if !found {
			break
		}
		r.buf = rest
		out = append(out, Message{Raw: raw})
	}

	if len(r.buf) > r.hard {
		r.logger.WithField("buffered", len(r.buf)).Warn("Reassembly buffer overflow, resetting")
		if msg, ok := r.recover(); ok {
			out = append(out, msg)
		}
		r.buf = ""
	}

	return out
}

// Flush attempts partial recovery of a stalled buffer. The session layer calls
// it when the stream has gone silent with data still pending. Recovery runs
// only when the buffer carries a recognizable payload fragment or has grown
// past SoftThreshold; on success the entire buffer is consumed, including
// fields the extraction missed.
func (r *Reassembler) Flush() (Message, bool) {
	if r.buf == "" {
		return Message{}, false
	}
	if !r.hasKeyMarker() && len(r.buf) <= r.soft {
		return Message{}, false
	}

	msg, ok := r.recover()
	if ok {
		r.buf = ""
	}
	return msg, ok
}

// Reset discards all buffered data.
func (r *Reassembler) Reset() {
	r.buf = ""
}

// Len reports the current buffer length.
func (r *Reassembler) Len() int {
	return len(r.buf)
}

// HasPartial reports whether undelivered data remains buffered.
func (r *Reassembler) HasPartial() bool {
	return r.buf != ""
}

func (r *Reassembler) hasKeyMarker() bool {
	for _, marker := range keyMarkers {
		if strings.Contains(r.buf, marker) {
			return true
		}
	}
	return false
}

// recover applies independent per-field extraction against the buffer text.
// At least one of the two primary fields (tds, vibration) must be present for
// a message to be synthesized; quality and timestamp ride along when found,
// everything else takes schema defaults downstream.
func (r *Reassembler) recover() (Message, bool) {
	fields := make(map[string]any, 5)

	if m := tdsPattern.FindStringSubmatch(r.buf); m != nil {
		fields["tds"] = json.RawMessage(m[1])
	}
	if m := vibrationPattern.FindStringSubmatch(r.buf); m != nil {
		fields["vibration"] = json.RawMessage(m[1])
	}

	if _, ok := fields["tds"]; !ok {
		if _, ok := fields["vibration"]; !ok {
			return Message{}, false
		}
	}

	if m := qualityPattern.FindStringSubmatch(r.buf); m != nil {
		fields["quality"] = m[1]
	}
	if m := timestampPattern.FindStringSubmatch(r.buf); m != nil {
		fields["timestamp"] = json.RawMessage(m[1])
	}
	fields["recovered"] = true

	raw, err := json.Marshal(fields)
	if err != nil {
		// Extracted fields are raw numbers and a plain string; marshaling
		// them cannot realistically fail.
		r.logger.WithField("error", err).Error("Failed to synthesize recovered message")
		return Message{}, false
	}

	r.logger.WithFields(logrus.Fields{
		"fields":   len(fields) - 1,
		"buffered": len(r.buf),
	}).Info("Recovered partial sensor message")

	return Message{Raw: string(raw), Recovered: true}, true
}

// extractObject scans text for the first structurally complete {...} span.
// Matching counts braces only and does not validate the JSON inside the span;
// braces inside quoted string values are not treated specially. Downstream
// JSON parsing is the correctness check.
func extractObject(text string) (raw, rest string, found bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", text, false
	}

	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], text[i+1:], true
			}
		}
	}
	return "", text, false
}
