package loadtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeEmpty(t *testing.T) {
	s := &sampleSet{}
	agg := s.summarize()

	assert.Equal(t, 0, agg.Total)
	assert.Nil(t, agg.AvgMS)
	assert.Nil(t, agg.MinMS)
	assert.Nil(t, agg.MaxMS)
	assert.Nil(t, agg.P95MS)
	assert.Nil(t, agg.P99MS)
}

func TestSummarizeBasicAggregates(t *testing.T) {
	s := &sampleSet{}
	s.add(10, true)
	s.add(20, true)
	s.add(31, false)

	agg := s.summarize()
	assert.Equal(t, 3, agg.Total)
	assert.Equal(t, 2, agg.Success)
	assert.Equal(t, 1, agg.Failed)

	require.NotNil(t, agg.AvgMS)
	assert.Equal(t, int64(20), *agg.AvgMS, "integer mean of 10, 20, 31")
	require.NotNil(t, agg.MinMS)
	assert.Equal(t, int64(10), *agg.MinMS)
	require.NotNil(t, agg.MaxMS)
	assert.Equal(t, int64(31), *agg.MaxMS)

	assert.Nil(t, agg.P95MS, "below the sample floor")
	assert.Nil(t, agg.P99MS)
}

func TestSummarizeIgnoresNonPositiveLatencies(t *testing.T) {
	s := &sampleSet{}
	s.add(0, false)
	s.add(-5, false)
	s.add(40, true)

	agg := s.summarize()
	assert.Equal(t, 3, agg.Total)
	require.NotNil(t, agg.AvgMS)
	assert.Equal(t, int64(40), *agg.AvgMS)
	assert.Equal(t, int64(40), *agg.MinMS)
	assert.Equal(t, int64(40), *agg.MaxMS)
}

func TestSummarizeAllZeroLatencies(t *testing.T) {
	s := &sampleSet{}
	s.add(0, true)
	s.add(0, true)

	agg := s.summarize()
	assert.Equal(t, 2, agg.Total)
	assert.Nil(t, agg.AvgMS)
	assert.Nil(t, agg.MinMS)
	assert.Nil(t, agg.MaxMS)
}

func TestSummarizePercentiles(t *testing.T) {
	s := &sampleSet{}
	// 1..100ms, shuffled order does not matter for percentiles.
	for i := 100; i >= 1; i-- {
		s.add(int64(i), true)
	}

	agg := s.summarize()
	assert.Equal(t, 100, agg.Total)
	require.NotNil(t, agg.P95MS)
	assert.Equal(t, int64(96), *agg.P95MS, "index 95 of the sorted 1..100 sample")
	require.NotNil(t, agg.P99MS)
	assert.Equal(t, int64(100), *agg.P99MS)
}

func TestSummarizePercentilesAtExactFloor(t *testing.T) {
	s := &sampleSet{}
	for i := 1; i <= percentileMinSamples; i++ {
		s.add(int64(i), true)
	}

	agg := s.summarize()
	require.NotNil(t, agg.P95MS)
	assert.Equal(t, int64(20), *agg.P95MS)
	require.NotNil(t, agg.P99MS)
	assert.Equal(t, int64(20), *agg.P99MS)
}
