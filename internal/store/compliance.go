package store

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/avelasco/hydrolink/internal/reading"
)

const historyKey = "hydrolink/test-history"

// DeviationAlert is the payload handed to the notification scheduler when a
// reading deviates from safe water quality.
type DeviationAlert struct {
	Quality    reading.Quality `json:"quality"`
	TDS        float64         `json:"tds"`
	Vibration  float64         `json:"vibration"`
	DeviceID   string          `json:"deviceId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Message    string          `json:"message"`
}

// Notifier schedules user-facing notifications. Implemented by the platform
// shell; a no-op implementation is fine for headless use.
type Notifier interface {
	Schedule(alert DeviationAlert) error
}

// DaySummary aggregates the readings recorded on one calendar day.
type DaySummary struct {
	Date         string          `json:"date"` // YYYY-MM-DD
	Count        int             `json:"count"`
	WorstQuality reading.Quality `json:"worstQuality"`
	MaxTDS       float64         `json:"maxTds"`
	LastTestedAt time.Time       `json:"lastTestedAt"`
}

// Tracker records completed water tests and reports testing compliance: was a
// test performed within the required interval. History is kept per day in
// insertion order and persisted through the Store.
type Tracker struct {
	store     Store
	notifier  Notifier
	logger    *logrus.Logger
	interval  time.Duration
	vibLimit  float64
	mu        sync.Mutex
	days      *orderedmap.OrderedMap[string, DaySummary]
	lastAlert time.Time
}

// NewTracker creates a Tracker over the given store, loading any persisted
// history. notifier may be nil.
func NewTracker(s Store, notifier Notifier, logger *logrus.Logger, interval time.Duration, vibrationLimit float64) (*Tracker, error) {
	if logger == nil {
		logger = logrus.New()
	}
	t := &Tracker{
		store:    s,
		notifier: notifier,
		logger:   logger,
		interval: interval,
		vibLimit: vibrationLimit,
		days:     orderedmap.New[string, DaySummary](),
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

// Record registers one completed test. The reading's worst-quality and
// max-TDS roll into the day's summary, history is persisted, and a deviation
// alert is scheduled when warranted.
func (t *Tracker) Record(rd *reading.SensorReading) error {
	day := rd.ReceivedAt.Format("2006-01-02")

	t.mu.Lock()
	summary, _ := t.days.Get(day)
	if summary.Date == "" {
		summary.Date = day
		summary.WorstQuality = rd.Quality
	}
	summary.Count++
	if qualityRank(rd.Quality) > qualityRank(summary.WorstQuality) {
		summary.WorstQuality = rd.Quality
	}
	if rd.TDS > summary.MaxTDS {
		summary.MaxTDS = rd.TDS
	}
	if rd.ReceivedAt.After(summary.LastTestedAt) {
		summary.LastTestedAt = rd.ReceivedAt
	}
	t.days.Set(day, summary)
	err := t.persistLocked()
	t.mu.Unlock()
	if err != nil {
		return err
	}

	t.maybeAlert(rd)
	return nil
}

// Compliant reports whether a test was recorded within the required interval
// of now.
func (t *Tracker) Compliant(now time.Time) bool {
	last, ok := t.LastTest()
	return ok && now.Sub(last) <= t.interval
}

// LastTest returns the time of the most recent recorded test.
func (t *Tracker) LastTest() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var last time.Time
	for pair := t.days.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.LastTestedAt.After(last) {
			last = pair.Value.LastTestedAt
		}
	}
	return last, !last.IsZero()
}

// History returns the per-day summaries, oldest first.
func (t *Tracker) History() []DaySummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]DaySummary, 0, t.days.Len())
	for pair := t.days.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// maybeAlert schedules a deviation alert for unsafe quality or vibration
// beyond the configured limit, at most once per hour.
func (t *Tracker) maybeAlert(rd *reading.SensorReading) {
	if t.notifier == nil {
		return
	}
	unsafe := rd.Quality == reading.QualityUnsafe || rd.Quality == reading.QualityExtremelyUnsafe
	shaking := t.vibLimit > 0 && math.Abs(rd.Vibration) > t.vibLimit
	if !unsafe && !shaking {
		return
	}

	t.mu.Lock()
	if time.Since(t.lastAlert) < time.Hour {
		t.mu.Unlock()
		return
	}
	t.lastAlert = time.Now()
	t.mu.Unlock()

	msg := fmt.Sprintf("Water quality %s (TDS %.0f ppm)", rd.Quality, rd.TDS)
	if shaking && !unsafe {
		msg = fmt.Sprintf("Sensor vibration %.2f m/s² exceeds %.2f", rd.Vibration, t.vibLimit)
	}
	alert := DeviationAlert{
		Quality:    rd.Quality,
		TDS:        rd.TDS,
		Vibration:  rd.Vibration,
		DeviceID:   rd.DeviceID,
		OccurredAt: rd.ReceivedAt,
		Message:    msg,
	}
	if err := t.notifier.Schedule(alert); err != nil {
		t.logger.WithField("error", err).Warn("Failed to schedule deviation alert")
	}
}

func (t *Tracker) load() error {
	raw, ok, err := t.store.Get(historyKey)
	if err != nil {
		return fmt.Errorf("loading test history: %w", err)
	}
	if !ok || raw == "" {
		return nil
	}
	var summaries []DaySummary
	if err := json.Unmarshal([]byte(raw), &summaries); err != nil {
		return fmt.Errorf("parsing test history: %w", err)
	}
	for _, s := range summaries {
		t.days.Set(s.Date, s)
	}
	return nil
}

func (t *Tracker) persistLocked() error {
	summaries := make([]DaySummary, 0, t.days.Len())
	for pair := t.days.Oldest(); pair != nil; pair = pair.Next() {
		summaries = append(summaries, pair.Value)
	}
	data, err := json.Marshal(summaries)
	if err != nil {
		return fmt.Errorf("encoding test history: %w", err)
	}
	if err := t.store.Set(historyKey, string(data)); err != nil {
		return fmt.Errorf("persisting test history: %w", err)
	}
	return nil
}

func qualityRank(q reading.Quality) int {
	switch q {
	case reading.QualityClean:
		return 0
	case reading.QualityUnknown:
		return 1
	case reading.QualityUnsafe:
		return 2
	case reading.QualityExtremelyUnsafe:
		return 3
	default:
		return 1
	}
}
