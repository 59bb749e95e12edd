package identity

import "sort"

// Outcome tags the decision the matcher reached for one event.
type Outcome string

const (
	// OutcomeCreate: no usable candidate; persist the event's identity as a
	// new record.
	OutcomeCreate Outcome = "create"
	// OutcomeMergeOne: exactly one surviving candidate; union the event's
	// identifiers into it.
	OutcomeMergeOne Outcome = "merge-one"
	// OutcomeMergeMany: several candidates are the same person; union all of
	// them plus the event into the lowest-id record.
	OutcomeMergeMany Outcome = "merge-many"
	// OutcomeAmbiguous: several candidates linked only by weak identifiers;
	// merging would risk joining distinct people, so a new record is created
	// instead.
	OutcomeAmbiguous Outcome = "ambiguous"
)

// Result is the matcher's decision. Identity carries the final unioned
// identifier sets; its ID is zero when a new record must be inserted, and
// the surviving record's id otherwise. Absorbed lists the ids of records
// folded into the survivor in a merge-many.
type Result struct {
	Outcome  Outcome
	Identity Identity
	Absorbed []int64
}

// Match decides how the candidate identity (built solely from one event)
// stitches into the existing identities whose identifier sets intersect it.
// Pure function: no store access, no side effects.
//
// Rules, in order:
//   - zero candidates: create.
//   - one candidate: merge, unless the candidate is an authenticated
//     identity sharing no strong identifier value with the event — weak
//     overlap alone never attaches an event to someone else's
//     authenticated record (shared devices, cookie churn).
//   - multiple candidates with no strong link to the event: ambiguous.
//     Weak identifiers are reused across people, so the evidence cannot
//     say which candidate is right; refuse to merge.
//   - otherwise: drop false positives (authenticated candidates without a
//     strong link; anonymous candidates whose only tie to an authenticated
//     candidate is a shared mcid), then union what remains into the
//     lowest-id survivor.
func Match(candidate Identity, existing []Identity) Result {
	candidate = candidate.Normalize()

	switch len(existing) {
	case 0:
		return Result{Outcome: OutcomeCreate, Identity: candidate}
	case 1:
		match := existing[0]
		if falsePositive(match, candidate) {
			return Result{Outcome: OutcomeCreate, Identity: candidate}
		}
		return Result{Outcome: OutcomeMergeOne, Identity: Union(match, candidate)}
	}

	// Lowest id first: ids are assigned serially, so this is creation order
	// and makes the surviving record deterministic.
	sorted := make([]Identity, len(existing))
	copy(sorted, existing)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].ID < sorted[b].ID })

	if !anyStrongLink(sorted, candidate) {
		return Result{Outcome: OutcomeAmbiguous, Identity: candidate}
	}

	kept := sorted[:0:0]
	for _, c := range sorted {
		if falsePositive(c, candidate) {
			continue
		}
		if anonymousMCIDCollision(c, sorted) {
			continue
		}
		kept = append(kept, c)
	}

	// Strong-linked candidates are never filtered, so kept is non-empty here.
	if len(kept) == 1 {
		return Result{Outcome: OutcomeMergeOne, Identity: Union(kept[0], candidate)}
	}

	survivor := kept[0]
	absorbed := make([]int64, 0, len(kept)-1)
	merged := make([]Identity, 0, len(kept))
	for _, c := range kept[1:] {
		absorbed = append(absorbed, c.ID)
		merged = append(merged, c)
	}
	merged = append(merged, candidate)

	return Result{
		Outcome:  OutcomeMergeMany,
		Identity: Union(survivor, merged...),
		Absorbed: absorbed,
	}
}

// falsePositive reports whether a candidate is someone else's authenticated
// identity that merely shares a weak identifier with the event.
func falsePositive(c, event Identity) bool {
	return c.Authenticated() && !c.SharesStrong(event)
}

// anonymousMCIDCollision reports whether an anonymous candidate's only tie
// to an authenticated candidate in the set is a shared mcid. The mcid is
// shared across anonymous sessions on one browser, so the anonymous record
// belongs to whoever else used the device, not to the authenticated person
// being merged.
func anonymousMCIDCollision(c Identity, all []Identity) bool {
	if c.Authenticated() {
		return false
	}
	for _, other := range all {
		if other.ID == c.ID || !other.Authenticated() {
			continue
		}
		if c.sharesOnlyMCID(other) {
			return true
		}
	}
	return false
}

// anyStrongLink reports whether at least one candidate shares a strong
// identifier value with the event.
func anyStrongLink(candidates []Identity, event Identity) bool {
	for _, c := range candidates {
		if c.SharesStrong(event) {
			return true
		}
	}
	return false
}
