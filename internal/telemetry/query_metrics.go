// Package telemetry keeps in-memory search metrics for an open session.
// Query text is never retained: repeats are detected by hash only.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryType classifies a search by what it asks for.
type QueryType string

const (
	// QueryTypeText searches message text.
	QueryTypeText QueryType = "text"
	// QueryTypeTag searches for #tags only.
	QueryTypeTag QueryType = "tag"
	// QueryTypeFilter has no text and only narrows by sender, thread, file, or date.
	QueryTypeFilter QueryType = "filter"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// Classify returns the query type for a search's free text.
func Classify(text string) QueryType {
	words := strings.Fields(text)
	if len(words) == 0 {
		return QueryTypeFilter
	}
	for _, w := range words {
		if !strings.HasPrefix(w, "#") {
			return QueryTypeText
		}
	}
	return QueryTypeTag
}

// QueryEvent is one completed search.
type QueryEvent struct {
	// Key identifies the query for repeat detection. It is hashed on record.
	Key         string
	Type        QueryType
	ResultCount uint64
	Latency     time.Duration
	Failed      bool
}

// Snapshot is a point-in-time copy of the metrics.
type Snapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	FailedCount         int64                   `json:"failed_count"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	RepeatCount         int64                   `json:"repeat_count"`
	TypeCounts          map[QueryType]int64     `json:"type_counts"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of successful queries that found nothing.
func (s Snapshot) ZeroResultPercentage() float64 {
	ok := s.TotalQueries - s.FailedCount
	if ok <= 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(ok) * 100
}

// DefaultRecentCapacity is how many distinct recent queries repeat detection remembers.
const DefaultRecentCapacity = 500

// QueryMetrics aggregates search events. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	types      map[QueryType]int64
	latencies  map[LatencyBucket]int64
	total      int64
	failed     int64
	zeroResult int64
	repeats    int64
	recent     *lru.Cache[string, struct{}]
	since      time.Time
}

// NewQueryMetrics creates an empty collector remembering up to capacity
// recent query hashes. A non-positive capacity uses DefaultRecentCapacity.
func NewQueryMetrics(capacity int) *QueryMetrics {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	recent, _ := lru.New[string, struct{}](capacity)
	return &QueryMetrics{
		types:     make(map[QueryType]int64),
		latencies: make(map[LatencyBucket]int64),
		recent:    recent,
		since:     time.Now(),
	}
}

// Record adds one search event.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.types[event.Type]++
	m.latencies[LatencyToBucket(event.Latency)]++
	switch {
	case event.Failed:
		m.failed++
	case event.ResultCount == 0:
		m.zeroResult++
	}

	if event.Key == "" {
		return
	}
	hash := hashKey(event.Key)
	if _, seen := m.recent.Get(hash); seen {
		m.repeats++
	}
	m.recent.Add(hash, struct{}{})
}

// Snapshot returns a copy of the current metrics.
func (m *QueryMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make(map[QueryType]int64, len(m.types))
	for k, v := range m.types {
		types[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}
	return Snapshot{
		TotalQueries:        m.total,
		FailedCount:         m.failed,
		ZeroResultCount:     m.zeroResult,
		RepeatCount:         m.repeats,
		TypeCounts:          types,
		LatencyDistribution: latencies,
		Since:               m.since,
	}
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(key))))
	return hex.EncodeToString(sum[:16])
}
