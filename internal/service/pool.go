package service

import (
	"bufio"
	"strings"
)

// PoolSummary describes a rebuilt pool
type PoolSummary struct {
	Batches            int `json:"batches"`
	Phones             int `json:"phones"`
	SkippedBlacklisted int `json:"skipped_blacklisted"`
	SkippedDuplicates  int `json:"skipped_duplicates"`
}

// ParseLines splits newline-separated text into trimmed, non-empty lines
func ParseLines(raw string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// BuildBatches drops blacklisted and repeated numbers (first occurrence
// wins, order preserved) and chunks the rest into groups of size.
func BuildBatches(phones []string, blacklist map[string]struct{}, size int) ([][]string, PoolSummary) {
	var sum PoolSummary
	seen := make(map[string]struct{}, len(phones))
	kept := make([]string, 0, len(phones))
	for _, p := range phones {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, bad := blacklist[p]; bad {
			sum.SkippedBlacklisted++
			continue
		}
		if _, dup := seen[p]; dup {
			sum.SkippedDuplicates++
			continue
		}
		seen[p] = struct{}{}
		kept = append(kept, p)
	}

	batches := make([][]string, 0, (len(kept)+size-1)/size)
	for i := 0; i < len(kept); i += size {
		end := i + size
		if end > len(kept) {
			end = len(kept)
		}
		batches = append(batches, kept[i:end:end])
	}

	sum.Batches = len(batches)
	sum.Phones = len(kept)
	return batches, sum
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

func normalize(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return dedupe(out)
}
