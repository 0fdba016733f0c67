package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_AppendAssignsSequence(t *testing.T) {
	s := NewStream(0, 0)
	a := s.Append("first", map[string]any{"k": "v"})
	b := s.Append("second", nil)

	assert.Equal(t, int64(1), a.SequenceNumber)
	assert.Equal(t, int64(2), b.SequenceNumber)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "v", a.Context["k"])
	assert.Equal(t, 2, s.Len())
}

func TestStream_RollsOverflowIntoSummary(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	s := NewStream(3, 5).WithClock(func() time.Time { return clock })

	// Spread entries out so the low-activity capacity applies.
	for i := 0; i < 5; i++ {
		clock = base.Add(time.Duration(i) * time.Minute)
		s.Append(fmt.Sprintf("cookie recipe %d", i), nil)
	}

	require.Equal(t, 3, s.Len())
	sum := s.Summary()
	assert.Equal(t, 2, sum.Count)
	require.NotNil(t, sum.FirstAt)
	assert.Equal(t, base, *sum.FirstAt)
	assert.Contains(t, sum.TopTerms, "cookie")

	recent := s.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(4), recent[0].SequenceNumber)
	assert.Equal(t, int64(5), recent[1].SequenceNumber)
}

func TestStream_HighActivityCapacity(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStream(5, 15).WithClock(func() time.Time { return clock })

	for i := 0; i < 14; i++ {
		clock = clock.Add(time.Second)
		s.Append("burst", nil)
	}
	// The first ten arrivals are held to the low capacity of five.
	assert.Equal(t, 9, s.Len())
	assert.Equal(t, 15, s.Capacity())
}

func TestStream_Collapse(t *testing.T) {
	s := NewStream(0, 0)
	for i := 0; i < 4; i++ {
		s.Append("brownie batch", nil)
	}
	sum := s.Collapse()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 4, sum.Count)
	assert.Equal(t, []string{"batch", "brownie"}, sum.TopTerms)

	// Collapsing twice leaves the same bounded summary.
	again := s.Collapse()
	assert.Equal(t, sum.Count, again.Count)
}

func TestStream_SummaryStaysBounded(t *testing.T) {
	s := NewStream(5, 5)
	for i := 0; i < 5000; i++ {
		s.Append(fmt.Sprintf("brownie variant%d", i), nil)
	}
	sum := s.Collapse()

	assert.Equal(t, 5000, sum.Count)
	assert.LessOrEqual(t, len(s.termCounts), maxTrackedTerms)
	require.NotEmpty(t, sum.TopTerms)
	assert.Equal(t, "brownie", sum.TopTerms[0])
	assert.LessOrEqual(t, len(sum.TopTerms), summaryTerms)
}
