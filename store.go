// File: store.go

package tokenizer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
)

// TokenStore persists token records. Token values passed to and returned by
// a store are always in stored (hashed) form.
//
// Implementations enforce uniqueness of stored access and refresh values
// and report a violation as ErrDuplicateToken. Soft-deleted records are
// invisible to every method except PurgeBatch.
type TokenStore interface {
	UniquenessChecker

	// FindByAccessToken returns the live record whose access token matches
	// and has not expired at now, or ErrRecordNotFound.
	FindByAccessToken(ctx context.Context, value string, now time.Time) (*TokenRecord, error)

	// FindByRefreshToken returns the live record whose refresh token matches
	// and is inside its usability window at now, or ErrRecordNotFound.
	FindByRefreshToken(ctx context.Context, value string, now time.Time) (*TokenRecord, error)

	// Create inserts record, assigning its ID when zero.
	Create(ctx context.Context, record *TokenRecord) error

	// Update replaces a live record, or returns ErrRecordNotFound.
	Update(ctx context.Context, record *TokenRecord) error

	// Touch records the last use of a token.
	Touch(ctx context.Context, id uint64, at time.Time) error

	// SoftDelete marks a record deleted. It reports false when the record
	// was absent or already deleted.
	SoftDelete(ctx context.Context, id uint64, at time.Time) (bool, error)

	// ListLive returns the live records of one owner ordered by ID.
	ListLive(ctx context.Context, ownerType, ownerID string) ([]*TokenRecord, error)

	// PurgeBatch hard-deletes at most limit records matching criteria and
	// returns how many were removed.
	PurgeBatch(ctx context.Context, criteria PurgeCriteria, limit int) (int, error)
}

// PurgeCriteria selects records for hard deletion. A record matches when
// either enabled condition holds.
type PurgeCriteria struct {
	// Revoked matches soft-deleted records.
	Revoked bool
	// Expired matches records whose refresh token expired before
	// ExpiredBefore.
	Expired       bool
	ExpiredBefore time.Time
}

func (c PurgeCriteria) matches(record *TokenRecord) bool {
	if c.Revoked && record.DeletedAt != nil {
		return true
	}
	return c.Expired && record.RefreshTokenExpireAt.Before(c.ExpiredBefore)
}

// DefaultNodeID is the snowflake node used until SetNodeID is called.
const DefaultNodeID = 1

var snowflakeNode atomic.Pointer[snowflake.Node]

func init() {
	if err := SetNodeID(DefaultNodeID); err != nil {
		panic(err)
	}
}

// SetNodeID selects the snowflake node of this process. Processes sharing a
// store need distinct node ids for IDs to stay unique and time-ordered.
func SetNodeID(id int64) error {
	node, err := snowflake.NewNode(id)
	if err != nil {
		return fmt.Errorf("invalid node id %d: %w", id, err)
	}
	snowflakeNode.Store(node)
	return nil
}

// GenerateID returns a new time-ordered record ID.
func GenerateID() uint64 {
	return uint64(snowflakeNode.Load().Generate())
}
