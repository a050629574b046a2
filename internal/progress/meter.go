package progress

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of one transfer task.
type Stats struct {
	Stage       string
	Attempt     int
	BytesDone   int64
	Total       int64
	ChunksDone  int
	ChunksTotal int
	RateBps     float64
	ETA         time.Duration
	Percent     float64
	StartedAt   time.Time
}

// Meter tracks byte and chunk progress and computes an EWMA-smoothed
// transfer rate.
type Meter struct {
	mu          sync.Mutex
	stage       string
	attempt     int
	total       int64
	done        int64
	chunksDone  int
	chunksTotal int
	startedAt   time.Time
	lastAt      time.Time
	lastDone    int64
	rateBps     float64
	alpha       float64
	now         func() time.Time
}

// NewMeter returns a meter with a default smoothing factor.
func NewMeter() *Meter {
	return NewMeterWithNow(time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	return &Meter{alpha: 0.2, now: now}
}

// Start initializes the meter for a new attempt.
func (m *Meter) Start(totalBytes int64, totalChunks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = totalBytes
	m.chunksTotal = totalChunks
	m.done = 0
	m.chunksDone = 0
	m.startedAt = m.now()
	m.lastAt = m.startedAt
	m.lastDone = 0
	m.rateBps = 0
}

// SetStage records the pipeline stage and attempt for display.
func (m *Meter) SetStage(stage string, attempt int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stage = stage
	m.attempt = attempt
}

// AddChunk records one completed chunk of n bytes.
func (m *Meter) AddChunk(n int64) {
	if n < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.done += n
	m.chunksDone++
	deltaBytes := m.done - m.lastDone
	deltaTime := now.Sub(m.lastAt).Seconds()
	if deltaTime > 0 {
		inst := float64(deltaBytes) / deltaTime
		if m.rateBps == 0 {
			m.rateBps = inst
		} else {
			m.rateBps = m.alpha*inst + (1-m.alpha)*m.rateBps
		}
		m.lastAt = now
		m.lastDone = m.done
	}
}

// Snapshot returns the current progress stats.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		Stage:       m.stage,
		Attempt:     m.attempt,
		BytesDone:   m.done,
		Total:       m.total,
		ChunksDone:  m.chunksDone,
		ChunksTotal: m.chunksTotal,
		RateBps:     m.rateBps,
		StartedAt:   m.startedAt,
	}
	if m.total > 0 {
		stats.Percent = float64(m.done) / float64(m.total) * 100
	}
	if m.rateBps > 0 && m.total > m.done {
		remaining := float64(m.total - m.done)
		stats.ETA = time.Duration(remaining/m.rateBps) * time.Second
	}
	return stats
}
