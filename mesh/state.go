package mesh

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Accumulator is the ordered, append-only collection of scan records.
// Only the acquisition loop appends; any goroutine may take a snapshot.
type Accumulator struct {
	mu        sync.RWMutex
	id        uuid.UUID
	startedAt time.Time
	mode      ScanMode
	records   []ScanRecord
	points    int
}

// NewAccumulator creates an empty accumulator with a fresh session ID
func NewAccumulator(mode ScanMode) *Accumulator {
	return &Accumulator{
		id:        uuid.New(),
		startedAt: time.Now(),
		mode:      mode,
	}
}

// ID returns the session identifier
func (a *Accumulator) ID() uuid.UUID {
	return a.id
}

// Mode returns the scan mode the session was started with
func (a *Accumulator) Mode() ScanMode {
	return a.mode
}

// Append adds a fully constructed record. A record whose pose carries no axis
// reading is refused.
func (a *Accumulator) Append(rec ScanRecord) error {
	if !rec.Pose.Valid() {
		return fmt.Errorf("frame %d: %w", rec.FrameIndex, ErrNoPose)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	a.points += rec.PointCount()
	return nil
}

// Len returns the number of appended records
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}

// PointCount returns the number of reconstructed points across all records
func (a *Accumulator) PointCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.points
}

// Snapshot returns a copy of the records appended so far. Records are never
// mutated after append, so the copy shares their contents.
func (a *Accumulator) Snapshot() []ScanRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]ScanRecord, len(a.records))
	copy(out, a.records)
	return out
}

// Session is the persisted form of an accumulator
type Session struct {
	ID          uuid.UUID    `json:"id"`
	StartedAt   time.Time    `json:"startedAt"`
	Mode        ScanMode     `json:"mode"`
	Calibration Calibration  `json:"calibration"`
	Records     []ScanRecord `json:"records"`
}

// Session captures the accumulator's current contents together with cal
func (a *Accumulator) Session(cal Calibration) *Session {
	return &Session{
		ID:          a.id,
		StartedAt:   a.startedAt,
		Mode:        a.mode,
		Calibration: cal,
		Records:     a.Snapshot(),
	}
}

// AccumulatorFromSession rebuilds an accumulator from a persisted session
func AccumulatorFromSession(s *Session) *Accumulator {
	a := &Accumulator{
		id:        s.ID,
		startedAt: s.StartedAt,
		mode:      s.Mode,
		records:   append([]ScanRecord(nil), s.Records...),
	}
	for _, rec := range a.records {
		a.points += rec.PointCount()
	}
	return a
}

// SaveSession writes a session to disk as JSON
func SaveSession(s *Session, path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// LoadSession reads a session from a JSON file on disk
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session file: %w", err)
	}
	return &s, nil
}
