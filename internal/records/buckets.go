package records

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidBucket is returned for a malformed bucket definition.
	ErrInvalidBucket = errors.New("invalid time-of-day bucket")

	// ErrBucketOverlap is returned when an hour falls into two buckets.
	ErrBucketOverlap = errors.New("time-of-day buckets overlap")

	// ErrBucketGap is returned when an hour falls into no bucket.
	ErrBucketGap = errors.New("time-of-day buckets leave hours uncovered")
)

// Bucket names the hours [Start, End). End <= Start wraps past midnight,
// so Night {21, 5} covers 21:00-04:59.
type Bucket struct {
	Name  string `yaml:"name"`
	Start int    `yaml:"start"`
	End   int    `yaml:"end"`
}

// Contains reports whether hour is inside the bucket.
func (b Bucket) Contains(hour int) bool {
	if b.Start < b.End {
		return hour >= b.Start && hour < b.End
	}
	return hour >= b.Start || hour < b.End
}

// DefaultBuckets returns the Morning/Afternoon/Evening/Night boundary table.
func DefaultBuckets() []Bucket {
	return []Bucket{
		{Name: "Morning", Start: 5, End: 12},
		{Name: "Afternoon", Start: 12, End: 17},
		{Name: "Evening", Start: 17, End: 21},
		{Name: "Night", Start: 21, End: 5},
	}
}

// TimeBuckets maps every hour of the day to exactly one bucket.
type TimeBuckets struct {
	buckets []Bucket
	byHour  [24]int
}

// NewTimeBuckets validates that buckets partition the 24 hours with no gaps
// or overlaps. Buckets are ordered by Start.
func NewTimeBuckets(buckets []Bucket) (*TimeBuckets, error) {
	if len(buckets) == 0 {
		return nil, fmt.Errorf("%w: at least one bucket must be configured", ErrInvalidBucket)
	}

	sorted := make([]Bucket, len(buckets))
	copy(sorted, buckets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	seen := make(map[string]bool, len(sorted))
	for i, b := range sorted {
		name := strings.TrimSpace(b.Name)
		sorted[i].Name = name
		switch {
		case name == "":
			return nil, fmt.Errorf("%w: bucket starting at %d has no name", ErrInvalidBucket, b.Start)
		case seen[name]:
			return nil, fmt.Errorf("%w: duplicate bucket name %q", ErrInvalidBucket, name)
		case b.Start < 0 || b.Start > 23:
			return nil, fmt.Errorf("%w: bucket %q start %d outside 0-23", ErrInvalidBucket, name, b.Start)
		case b.End < 0 || b.End > 24:
			return nil, fmt.Errorf("%w: bucket %q end %d outside 0-24", ErrInvalidBucket, name, b.End)
		case b.Start == b.End || (b.End == 24 && b.Start == 0 && len(sorted) > 1):
			return nil, fmt.Errorf("%w: bucket %q [%d,%d) is empty or ambiguous", ErrInvalidBucket, name, b.Start, b.End)
		}
		seen[name] = true
	}

	tb := &TimeBuckets{buckets: sorted}
	for h := range tb.byHour {
		tb.byHour[h] = -1
	}
	for i, b := range sorted {
		for h := 0; h < 24; h++ {
			if !b.Contains(h) {
				continue
			}
			if prev := tb.byHour[h]; prev >= 0 {
				return nil, fmt.Errorf("%w: hour %d is in both %q and %q",
					ErrBucketOverlap, h, sorted[prev].Name, b.Name)
			}
			tb.byHour[h] = i
		}
	}

	var missing []string
	for h, idx := range tb.byHour {
		if idx < 0 {
			missing = append(missing, fmt.Sprintf("%d", h))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: hours %s", ErrBucketGap, strings.Join(missing, ","))
	}

	return tb, nil
}

// DefaultTimeBuckets returns the validated default partition.
func DefaultTimeBuckets() *TimeBuckets {
	tb, err := NewTimeBuckets(DefaultBuckets())
	if err != nil {
		panic(err)
	}
	return tb
}

// Assign returns the bucket name for an hour. Hours outside 0-23 wrap.
func (t *TimeBuckets) Assign(hour int) string {
	hour %= 24
	if hour < 0 {
		hour += 24
	}
	return t.buckets[t.byHour[hour]].Name
}

// Names returns bucket names ordered by start hour.
func (t *TimeBuckets) Names() []string {
	names := make([]string, len(t.buckets))
	for i, b := range t.buckets {
		names[i] = b.Name
	}
	return names
}

// Buckets returns a copy of the bucket definitions ordered by start hour.
func (t *TimeBuckets) Buckets() []Bucket {
	out := make([]Bucket, len(t.buckets))
	copy(out, t.buckets)
	return out
}
