package shard

// Threshold fractions for range expansion. The values encode an
// operational tuning decision, not a correctness requirement, so they
// are parameters rather than constants.
const (
	DefaultMidpointFraction = 0.5
	DefaultSafeFraction     = 0.75
)

// RangePolicy routes identifiers by a half-open range [start, end).
// The range never shrinks; it may grow online exactly once per shard
// lifetime, and only while the maximum observed id is still below the
// safe boundary.
type RangePolicy struct {
	start    int64
	end      int64
	expanded bool

	midpointFraction float64
	safeFraction     float64
}

// NewRangePolicy creates a RangePolicy for [start, end) with the default
// expansion thresholds.
func NewRangePolicy(start, end int64) RangePolicy {
	return RangePolicy{
		start:            start,
		end:              end,
		midpointFraction: DefaultMidpointFraction,
		safeFraction:     DefaultSafeFraction,
	}
}

// ReconstructRangePolicy rebuilds a RangePolicy from persisted state.
func ReconstructRangePolicy(start, end int64, expanded bool, midpointFraction, safeFraction float64) RangePolicy {
	if midpointFraction <= 0 || midpointFraction >= 1 {
		midpointFraction = DefaultMidpointFraction
	}
	if safeFraction <= midpointFraction || safeFraction >= 1 {
		safeFraction = DefaultSafeFraction
	}
	return RangePolicy{
		start:            start,
		end:              end,
		expanded:         expanded,
		midpointFraction: midpointFraction,
		safeFraction:     safeFraction,
	}
}

// Start returns the inclusive lower bound.
func (p RangePolicy) Start() int64 { return p.start }

// End returns the exclusive upper bound.
func (p RangePolicy) End() int64 { return p.end }

// Expanded reports whether the one-time expansion has been used.
func (p RangePolicy) Expanded() bool { return p.expanded }

// Width returns the current range width.
func (p RangePolicy) Width() int64 { return p.end - p.start }

// Owns reports whether the id falls inside [start, end).
func (p RangePolicy) Owns(id int64) bool {
	return id >= p.start && id < p.end
}

// SafeBoundary returns the id above which expansion is refused.
func (p RangePolicy) SafeBoundary() int64 {
	return p.start + int64(float64(p.Width())*p.safeFraction)
}

// Midpoint returns the id below which no expansion is recommended.
func (p RangePolicy) Midpoint() int64 {
	return p.start + int64(float64(p.Width())*p.midpointFraction)
}

// CheckOutcome describes the result of a range check.
type CheckOutcome int

// CheckOutcome values.
const (
	// CheckNoAction means the shard is comfortably inside its range.
	CheckNoAction CheckOutcome = iota
	// CheckRecommendExpansion means the shard is past the midpoint and
	// an expansion amount has been computed.
	CheckRecommendExpansion
	// CheckTooLate means the max id is past the safe boundary and
	// expansion is no longer possible.
	CheckTooLate
	// CheckSaturated means observed density is already at or above the
	// target, so extra range would not help.
	CheckSaturated
)

// CheckResult is the outcome of RangeCheck plus the recommended extra
// range width when expansion is advised.
type CheckResult struct {
	outcome CheckOutcome
	extra   int64
}

// Outcome returns the check outcome.
func (r CheckResult) Outcome() CheckOutcome { return r.outcome }

// Extra returns the recommended additional range width.
func (r CheckResult) Extra() int64 { return r.extra }

// RangeCheck computes a recommended expansion amount from the maximum
// observed id and the number of documents observed in the shard.
//
// Below the midpoint nothing needs to happen. Between the midpoint and
// the safe boundary the observed density (docs per unit of consumed
// range) projects the extra width needed to reach target density one:
// extra = width * (1/density) - width. Past the safe boundary expansion
// is refused.
func (p RangePolicy) RangeCheck(maxObservedID, observedCount int64) CheckResult {
	if maxObservedID < p.Midpoint() {
		return CheckResult{outcome: CheckNoAction}
	}
	if maxObservedID >= p.SafeBoundary() {
		return CheckResult{outcome: CheckTooLate}
	}

	consumed := maxObservedID - p.start
	if consumed <= 0 {
		return CheckResult{outcome: CheckNoAction}
	}
	density := float64(observedCount) / float64(consumed)
	if density >= 1 {
		return CheckResult{outcome: CheckSaturated}
	}

	width := float64(p.Width())
	extra := int64(width/density - width)
	return CheckResult{outcome: CheckRecommendExpansion, extra: extra}
}

// Expand grows the range by add, returning the expanded policy.
// Expansion is rejected when the range is uninitialized, has already
// been expanded, or the max observed id is past the safe boundary.
func (p RangePolicy) Expand(add int64, maxObservedID int64) (RangePolicy, error) {
	if p.expanded {
		return p, ErrAlreadyExpanded
	}
	if p.end <= p.start {
		return p, ErrRangeUninitialized
	}
	if add <= 0 {
		return p, ErrNotExpandable
	}
	if maxObservedID >= p.SafeBoundary() {
		return p, ErrUnsafeToExpand
	}

	p.end += add
	p.expanded = true
	return p, nil
}
