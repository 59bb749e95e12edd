// Package identity holds the durable user identity model and the pure
// matching rules that decide how an incoming event's identifiers stitch
// into stored identities.
package identity

import (
	pstrings "stitchd/pkg/platform/strings"
)

// Type enumerates the identifier kinds an identity can carry. Weak types
// are reused across people (shared browsers, cookie churn); only strong
// types license merging otherwise-unrelated identities.
type Type string

const (
	TypeMCID            Type = "mcid"
	TypeDomainUserID    Type = "domain_userid"
	TypeNetworkUserID   Type = "network_userid"
	TypeUserFingerprint Type = "user_fingerprint"
	TypeSSOGUID         Type = "sso_guid"
	TypeMasterPersonID  Type = "gr_master_person_id"
)

// Types returns all identifier types in stable order.
func Types() []Type {
	return []Type{
		TypeMCID,
		TypeDomainUserID,
		TypeNetworkUserID,
		TypeUserFingerprint,
		TypeSSOGUID,
		TypeMasterPersonID,
	}
}

// Strong reports whether the type uniquely and durably denotes one person.
func (t Type) Strong() bool {
	return t == TypeSSOGUID || t == TypeMasterPersonID
}

// Identity is the persisted record representing one resolved person or
// browser. Identifier sets are deduplicated and order-irrelevant; stitching
// only ever grows them.
type Identity struct {
	ID              int64
	MCID            []string
	DomainUserID    []string
	NetworkUserID   []string
	UserFingerprint []string
	SSOGUID         []string
	MasterPersonID  []string
}

// Values returns the set for one identifier type.
func (i Identity) Values(t Type) []string {
	switch t {
	case TypeMCID:
		return i.MCID
	case TypeDomainUserID:
		return i.DomainUserID
	case TypeNetworkUserID:
		return i.NetworkUserID
	case TypeUserFingerprint:
		return i.UserFingerprint
	case TypeSSOGUID:
		return i.SSOGUID
	case TypeMasterPersonID:
		return i.MasterPersonID
	}
	return nil
}

func (i *Identity) setValues(t Type, values []string) {
	switch t {
	case TypeMCID:
		i.MCID = values
	case TypeDomainUserID:
		i.DomainUserID = values
	case TypeNetworkUserID:
		i.NetworkUserID = values
	case TypeUserFingerprint:
		i.UserFingerprint = values
	case TypeSSOGUID:
		i.SSOGUID = values
	case TypeMasterPersonID:
		i.MasterPersonID = values
	}
}

// Empty reports whether the identity carries no identifier values at all.
func (i Identity) Empty() bool {
	for _, t := range Types() {
		if len(i.Values(t)) > 0 {
			return false
		}
	}
	return true
}

// Authenticated reports whether the identity carries any strong identifier.
func (i Identity) Authenticated() bool {
	return len(i.SSOGUID) > 0 || len(i.MasterPersonID) > 0
}

// HasMasterPersonID reports whether the identity is cross-system linked.
// Placement is only calculated for such identities.
func (i Identity) HasMasterPersonID() bool {
	return len(i.MasterPersonID) > 0
}

// Normalize dedupes, trims, and sorts every identifier set so set equality
// reduces to slice equality.
func (i Identity) Normalize() Identity {
	out := Identity{ID: i.ID}
	for _, t := range Types() {
		if v := i.Values(t); len(v) > 0 {
			out.setValues(t, pstrings.UnionSorted(v))
		}
	}
	return out
}

// Union merges other's identifier sets into i, keeping i's id. Union is
// commutative and idempotent over the sets, so commit order across
// concurrent stitches does not affect the converged record.
func Union(i Identity, others ...Identity) Identity {
	out := Identity{ID: i.ID}
	for _, t := range Types() {
		sets := make([][]string, 0, len(others)+1)
		sets = append(sets, i.Values(t))
		for _, o := range others {
			sets = append(sets, o.Values(t))
		}
		if merged := pstrings.UnionSorted(sets...); len(merged) > 0 {
			out.setValues(t, merged)
		}
	}
	return out
}

// Intersects reports whether two identities share at least one identifier
// value of any type.
func (i Identity) Intersects(o Identity) bool {
	for _, t := range Types() {
		if pstrings.Intersects(i.Values(t), o.Values(t)) {
			return true
		}
	}
	return false
}

// SharesStrong reports whether two identities share a strong identifier value.
func (i Identity) SharesStrong(o Identity) bool {
	return pstrings.Intersects(i.SSOGUID, o.SSOGUID) ||
		pstrings.Intersects(i.MasterPersonID, o.MasterPersonID)
}

// sharesOnlyMCID reports whether the overlap between two identities is
// confined to the mcid set.
func (i Identity) sharesOnlyMCID(o Identity) bool {
	if !pstrings.Intersects(i.MCID, o.MCID) {
		return false
	}
	for _, t := range Types() {
		if t == TypeMCID {
			continue
		}
		if pstrings.Intersects(i.Values(t), o.Values(t)) {
			return false
		}
	}
	return true
}
