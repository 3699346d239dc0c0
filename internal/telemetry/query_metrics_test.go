package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		latency  time.Duration
		expected LatencyBucket
	}{
		{0, BucketP10},
		{9 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{49 * time.Millisecond, BucketP50},
		{50 * time.Millisecond, BucketP100},
		{100 * time.Millisecond, BucketP500},
		{499 * time.Millisecond, BucketP500},
		{500 * time.Millisecond, BucketP1000},
		{5 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		t.Run(tt.latency.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, LatencyToBucket(tt.latency))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		text     string
		expected QueryType
	}{
		{"", QueryTypeFilter},
		{"   ", QueryTypeFilter},
		{"lunch", QueryTypeText},
		{"#urgent", QueryTypeTag},
		{"#urgent #ops", QueryTypeTag},
		{"#urgent budget", QueryTypeText},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.text))
		})
	}
}

func TestQueryMetrics_Record(t *testing.T) {
	// Given: an empty collector
	m := NewQueryMetrics(10)

	// When: recording a mix of events
	m.Record(QueryEvent{Key: "lunch", Type: QueryTypeText, ResultCount: 3, Latency: 5 * time.Millisecond})
	m.Record(QueryEvent{Key: "lunch", Type: QueryTypeText, ResultCount: 0, Latency: 20 * time.Millisecond})
	m.Record(QueryEvent{Key: "#ops", Type: QueryTypeTag, Failed: true, Latency: time.Second})
	m.Record(QueryEvent{Type: QueryTypeFilter, ResultCount: 1})

	// Then: the snapshot counts each dimension
	s := m.Snapshot()
	assert.Equal(t, int64(4), s.TotalQueries)
	assert.Equal(t, int64(1), s.FailedCount)
	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.Equal(t, int64(1), s.RepeatCount)
	assert.Equal(t, map[QueryType]int64{QueryTypeText: 2, QueryTypeTag: 1, QueryTypeFilter: 1}, s.TypeCounts)
	assert.Equal(t, int64(2), s.LatencyDistribution[BucketP10])
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketP1000])
	assert.InDelta(t, 33.33, s.ZeroResultPercentage(), 0.01)
}

func TestQueryMetrics_RepeatsIgnoreCaseAndSpace(t *testing.T) {
	m := NewQueryMetrics(0)

	m.Record(QueryEvent{Key: "Quarterly Report", Type: QueryTypeText})
	m.Record(QueryEvent{Key: "  quarterly report ", Type: QueryTypeText})

	assert.Equal(t, int64(1), m.Snapshot().RepeatCount)
}

func TestQueryMetrics_RepeatWindowIsBounded(t *testing.T) {
	// Given: room for two recent queries
	m := NewQueryMetrics(2)

	// When: a third query evicts the first
	m.Record(QueryEvent{Key: "a"})
	m.Record(QueryEvent{Key: "b"})
	m.Record(QueryEvent{Key: "c"})
	m.Record(QueryEvent{Key: "a"})

	// Then: the evicted query is not a repeat
	assert.Equal(t, int64(0), m.Snapshot().RepeatCount)
}

func TestQueryMetrics_SnapshotIsACopy(t *testing.T) {
	m := NewQueryMetrics(10)
	m.Record(QueryEvent{Type: QueryTypeText})

	s := m.Snapshot()
	s.TypeCounts[QueryTypeText] = 99

	assert.Equal(t, int64(1), m.Snapshot().TypeCounts[QueryTypeText])
}

func TestSnapshot_ZeroResultPercentage_Empty(t *testing.T) {
	assert.Equal(t, float64(0), Snapshot{}.ZeroResultPercentage())
	assert.Equal(t, float64(0), Snapshot{TotalQueries: 2, FailedCount: 2}.ZeroResultPercentage())
}

func TestQueryMetrics_Concurrent(t *testing.T) {
	m := NewQueryMetrics(100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Record(QueryEvent{Key: "q", Type: QueryTypeText, ResultCount: 1})
			}
		}()
	}
	wg.Wait()

	s := m.Snapshot()
	assert.Equal(t, int64(1000), s.TotalQueries)
	assert.Equal(t, int64(999), s.RepeatCount)
}
