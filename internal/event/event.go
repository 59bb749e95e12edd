// Package event models one tracked interaction and its parsing from the
// transport envelope. Parsing classifies unusable input: malformed records
// are reported, recognized automated traffic is silently skipped.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"stitchd/internal/identity"
)

var (
	// ErrMalformed marks an envelope that could not be parsed into an event.
	ErrMalformed = errors.New("malformed event record")
	// ErrBot marks recognized automated traffic. Not a failure: callers skip
	// the record without reporting it.
	ErrBot = errors.New("bot event")
)

// Event is one tracked interaction. UserID is zero until stitching resolves
// it; Resolved returns the post-stitch value rather than mutating in place.
type Event struct {
	ID          uuid.UUID
	URI         string
	UserAgent   string
	UserID      int64
	Identifiers identity.Identity
	OccurredAt  time.Time
	ReceivedAt  time.Time
}

// envelope is the wire shape of one tracking record, as produced by the
// collector.
type envelope struct {
	PageURI         string   `json:"page_uri"`
	UserAgent       string   `json:"useragent"`
	Timestamp       int64    `json:"tstamp_ms"`
	MCID            []string `json:"mcid"`
	DomainUserID    []string `json:"domain_userid"`
	NetworkUserID   []string `json:"network_userid"`
	UserFingerprint []string `json:"user_fingerprint"`
	SSOGUID         []string `json:"sso_guid"`
	MasterPersonID  []string `json:"gr_master_person_id"`
}

// FromRecord parses one envelope. Returns ErrMalformed (wrapped) on
// undecodable input and ErrBot when the useragent identifies an automated
// agent.
func FromRecord(data []byte, now time.Time) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.PageURI == "" {
		return Event{}, fmt.Errorf("%w: missing page_uri", ErrMalformed)
	}

	if env.UserAgent != "" && useragent.New(env.UserAgent).Bot() {
		return Event{}, ErrBot
	}

	occurred := now
	if env.Timestamp > 0 {
		occurred = time.UnixMilli(env.Timestamp).UTC()
	}

	return Event{
		ID:        uuid.New(),
		URI:       env.PageURI,
		UserAgent: env.UserAgent,
		Identifiers: identity.Identity{
			MCID:            env.MCID,
			DomainUserID:    env.DomainUserID,
			NetworkUserID:   env.NetworkUserID,
			UserFingerprint: env.UserFingerprint,
			SSOGUID:         env.SSOGUID,
			MasterPersonID:  env.MasterPersonID,
		}.Normalize(),
		OccurredAt: occurred,
		ReceivedAt: now,
	}, nil
}

// Resolved returns a copy of the event referencing the authoritative
// identity. The original value stays untouched so stitching remains free of
// shared mutable state.
func (e Event) Resolved(userID int64) Event {
	e.UserID = userID
	return e
}
