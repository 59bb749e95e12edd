// Package postgres implements the identity store on PostgreSQL. Identifier
// sets are text[] columns; candidate lookup uses the array-overlap operator
// so one indexed query covers all identifier types.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"stitchd/internal/identity"
	"stitchd/pkg/platform/sentinel"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const findIntersectingQuery = `
	SELECT id, mcid, domain_userid, network_userid, user_fingerprint,
	       sso_guid, gr_master_person_id
	FROM users
	WHERE mcid && $1
	   OR domain_userid && $2
	   OR network_userid && $3
	   OR user_fingerprint && $4
	   OR sso_guid && $5
	   OR gr_master_person_id && $6
	ORDER BY id
`

// FindIntersecting returns stored identities sharing at least one identifier
// value with the probe, lowest id first. The ordering is part of the merge
// contract: the survivor of a multi-merge is the first-created record, not
// whatever the planner returned first.
func (s *Store) FindIntersecting(ctx context.Context, probe identity.Identity) ([]identity.Identity, error) {
	rows, err := s.db.QueryContext(ctx, findIntersectingQuery,
		pq.Array(probe.MCID),
		pq.Array(probe.DomainUserID),
		pq.Array(probe.NetworkUserID),
		pq.Array(probe.UserFingerprint),
		pq.Array(probe.SSOGUID),
		pq.Array(probe.MasterPersonID),
	)
	if err != nil {
		return nil, fmt.Errorf("query intersecting identities: %w", classify(err))
	}
	defer rows.Close()

	var identities []identity.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", classify(err))
	}
	return identities, nil
}

// Empty sets arrive as NULL arrays; COALESCE keeps the columns NOT NULL.
const insertQuery = `
	INSERT INTO users (mcid, domain_userid, network_userid, user_fingerprint,
	                   sso_guid, gr_master_person_id)
	VALUES (COALESCE($1, '{}'::text[]), COALESCE($2, '{}'::text[]), COALESCE($3, '{}'::text[]),
	        COALESCE($4, '{}'::text[]), COALESCE($5, '{}'::text[]), COALESCE($6, '{}'::text[]))
	RETURNING id
`

func (s *Store) Insert(ctx context.Context, ident identity.Identity) (identity.Identity, error) {
	ident = ident.Normalize()
	err := s.db.QueryRowContext(ctx, insertQuery,
		pq.Array(ident.MCID),
		pq.Array(ident.DomainUserID),
		pq.Array(ident.NetworkUserID),
		pq.Array(ident.UserFingerprint),
		pq.Array(ident.SSOGUID),
		pq.Array(ident.MasterPersonID),
	).Scan(&ident.ID)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("insert identity: %w", classify(err))
	}
	return ident, nil
}

// The update unions in place rather than overwriting: identifier sets only
// ever grow, so a commit that raced in between our read and this write is
// preserved instead of clobbered.
const mergeUpdateQuery = `
	UPDATE users
	SET mcid = ARRAY(SELECT DISTINCT v FROM unnest(mcid || COALESCE($2, '{}'::text[])) AS v ORDER BY v),
	    domain_userid = ARRAY(SELECT DISTINCT v FROM unnest(domain_userid || COALESCE($3, '{}'::text[])) AS v ORDER BY v),
	    network_userid = ARRAY(SELECT DISTINCT v FROM unnest(network_userid || COALESCE($4, '{}'::text[])) AS v ORDER BY v),
	    user_fingerprint = ARRAY(SELECT DISTINCT v FROM unnest(user_fingerprint || COALESCE($5, '{}'::text[])) AS v ORDER BY v),
	    sso_guid = ARRAY(SELECT DISTINCT v FROM unnest(sso_guid || COALESCE($6, '{}'::text[])) AS v ORDER BY v),
	    gr_master_person_id = ARRAY(SELECT DISTINCT v FROM unnest(gr_master_person_id || COALESCE($7, '{}'::text[])) AS v ORDER BY v),
	    updated_at = now()
	WHERE id = $1
	RETURNING mcid, domain_userid, network_userid, user_fingerprint,
	          sso_guid, gr_master_person_id
`

// MergeUpdate writes the unioned identifier sets onto the survivor, re-points
// the absorbed identities' events at it, and deletes the absorbed records,
// all in one transaction. Concurrent merges touching the same rows surface
// as sentinel.ErrTransientConflict for the retry policy.
func (s *Store) MergeUpdate(ctx context.Context, survivorID int64, sets identity.Identity, absorbed []int64) (identity.Identity, error) {
	sets = sets.Normalize()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("begin merge tx: %w", classify(err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	merged := identity.Identity{ID: survivorID}
	err = tx.QueryRowContext(ctx, mergeUpdateQuery,
		survivorID,
		pq.Array(sets.MCID),
		pq.Array(sets.DomainUserID),
		pq.Array(sets.NetworkUserID),
		pq.Array(sets.UserFingerprint),
		pq.Array(sets.SSOGUID),
		pq.Array(sets.MasterPersonID),
	).Scan(
		pq.Array(&merged.MCID),
		pq.Array(&merged.DomainUserID),
		pq.Array(&merged.NetworkUserID),
		pq.Array(&merged.UserFingerprint),
		pq.Array(&merged.SSOGUID),
		pq.Array(&merged.MasterPersonID),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Identity{}, fmt.Errorf("identity %d: %w", survivorID, sentinel.ErrNotFound)
	}
	if err != nil {
		return identity.Identity{}, fmt.Errorf("update survivor %d: %w", survivorID, classify(err))
	}

	if len(absorbed) > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE events SET user_id = $1 WHERE user_id = ANY($2)`,
			survivorID, pq.Array(absorbed),
		)
		if err != nil {
			return identity.Identity{}, fmt.Errorf("re-point events to %d: %w", survivorID, classify(err))
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM users WHERE id = ANY($1)`,
			pq.Array(absorbed),
		)
		if err != nil {
			return identity.Identity{}, fmt.Errorf("delete absorbed identities: %w", classify(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return identity.Identity{}, fmt.Errorf("commit merge tx: %w", classify(err))
	}

	return merged, nil
}

func scanIdentity(rows *sql.Rows) (identity.Identity, error) {
	var ident identity.Identity
	err := rows.Scan(
		&ident.ID,
		pq.Array(&ident.MCID),
		pq.Array(&ident.DomainUserID),
		pq.Array(&ident.NetworkUserID),
		pq.Array(&ident.UserFingerprint),
		pq.Array(&ident.SSOGUID),
		pq.Array(&ident.MasterPersonID),
	)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("scan identity: %w", err)
	}
	return ident, nil
}

// Postgres SQLSTATE codes that mean "concurrent writers collided, retry the
// whole operation".
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// classify maps driver-level transient failures to the tagged sentinel so
// the retry policy never matches on error strings.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%s: %w", pqErr.Message, sentinel.ErrTransientConflict)
		}
	}
	return err
}
