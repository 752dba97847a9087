package engine

import "fmt"

// =============================================================================
// BUCKET - The four accounting components of an installment
// =============================================================================

// Bucket is one of the four components a transaction amount can be
// allocated to. The engine is a single generic waterfall parameterized by
// an ordered list of buckets, not one type per fixed permutation.
type Bucket int

const (
	BucketPrincipal Bucket = iota
	BucketInterest
	BucketFee
	BucketPenalty

	numBuckets = 4
)

func (b Bucket) String() string {
	switch b {
	case BucketPrincipal:
		return "principal"
	case BucketInterest:
		return "interest"
	case BucketFee:
		return "fee"
	case BucketPenalty:
		return "penalty"
	default:
		return fmt.Sprintf("bucket(%d)", int(b))
	}
}

// ParseBucket parses a bucket name as used in strategy configuration.
func ParseBucket(s string) (Bucket, error) {
	switch s {
	case "principal":
		return BucketPrincipal, nil
	case "interest":
		return BucketInterest, nil
	case "fee", "fees":
		return BucketFee, nil
	case "penalty", "penalties":
		return BucketPenalty, nil
	default:
		return 0, fmt.Errorf("unknown bucket %q", s)
	}
}

// BucketOrder is an ordered consumption sequence over the four buckets.
type BucketOrder []Bucket

// Validate checks the order is a permutation of all four buckets.
func (o BucketOrder) Validate() error {
	if len(o) != numBuckets {
		return fmt.Errorf("bucket order must list all %d buckets, got %d", numBuckets, len(o))
	}
	var seen [numBuckets]bool
	for _, b := range o {
		if b < 0 || b >= numBuckets {
			return fmt.Errorf("invalid bucket %d in order", int(b))
		}
		if seen[b] {
			return fmt.Errorf("bucket %s listed twice", b)
		}
		seen[b] = true
	}
	return nil
}
