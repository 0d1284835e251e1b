package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLines(t *testing.T) {
	assert.Equal(t, []string{"111", "222", "333"}, ParseLines("111\r\n  222\n\n333  \n"))
	assert.Empty(t, ParseLines("\n \n"))
}

func TestBuildBatches_MatchesChunkOfFilter(t *testing.T) {
	phones := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		phones = append(phones, fmt.Sprintf("%03d", i))
	}
	blacklist := map[string]struct{}{"003": {}, "017": {}}

	batches, sum := BuildBatches(phones, blacklist, 10)

	var filtered []string
	for _, p := range phones {
		if _, bad := blacklist[p]; !bad {
			filtered = append(filtered, p)
		}
	}
	var flat []string
	for _, b := range batches {
		assert.LessOrEqual(t, len(b), 10)
		flat = append(flat, b...)
	}
	assert.Equal(t, filtered, flat)
	assert.Len(t, batches, 3)
	assert.Len(t, batches[2], 3)
	assert.Equal(t, PoolSummary{Batches: 3, Phones: 23, SkippedBlacklisted: 2}, sum)
}

func TestBuildBatches_Deduplicates(t *testing.T) {
	batches, sum := BuildBatches([]string{"1", "2", "1", " 3 ", "", "2"}, nil, 2)
	assert.Equal(t, [][]string{{"1", "2"}, {"3"}}, batches)
	assert.Equal(t, 2, sum.SkippedDuplicates)
}

func TestBuildBatches_Empty(t *testing.T) {
	batches, sum := BuildBatches(nil, nil, 10)
	assert.Empty(t, batches)
	assert.Zero(t, sum.Batches)
}
