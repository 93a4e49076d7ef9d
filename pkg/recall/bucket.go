package recall

import "time"

// Bucket names a time-granularity partition in the compaction hierarchy:
// hour → day → week → month → quarter → half-year → year → life. Segments
// start in the finest bucket and are promoted to coarser ones as the
// compressor folds many fine-grained segments into fewer, broader ones.
type Bucket string

const (
	Bucket1H  Bucket = "1h"
	Bucket1D  Bucket = "1d"
	Bucket1W  Bucket = "1w"
	Bucket1M  Bucket = "1m"
	Bucket3M  Bucket = "3m"
	Bucket6M  Bucket = "6m"
	Bucket1Y  Bucket = "1y"
	BucketLT  Bucket = "lt" // lifetime — the terminal, coarsest bucket
)

// AllBuckets lists every bucket from finest to coarsest.
var AllBuckets = []Bucket{Bucket1H, Bucket1D, Bucket1W, Bucket1M, Bucket3M, Bucket6M, Bucket1Y, BucketLT}

// CompactableBuckets lists every bucket that can be a compaction source.
// BucketLT is excluded: it is the coarsest bucket and has nowhere further
// to cascade to.
var CompactableBuckets = AllBuckets[:len(AllBuckets)-1]

// bucketSpan is the upper bound of wall-clock span a bucket is meant to
// cover, used by [BucketForSpan] to pick a target bucket for a compacted
// segment. BucketLT has no upper bound.
var bucketSpan = map[Bucket]time.Duration{
	Bucket1H: time.Hour,
	Bucket1D: 24 * time.Hour,
	Bucket1W: 7 * 24 * time.Hour,
	Bucket1M: 30 * 24 * time.Hour,
	Bucket3M: 90 * 24 * time.Hour,
	Bucket6M: 180 * 24 * time.Hour,
	Bucket1Y: 365 * 24 * time.Hour,
}

// BucketForSpan returns the finest bucket whose span covers the given
// duration. Spans longer than a year map to [BucketLT].
func BucketForSpan(span time.Duration) Bucket {
	for _, b := range AllBuckets[:len(AllBuckets)-1] {
		if span <= bucketSpan[b] {
			return b
		}
	}
	return BucketLT
}
