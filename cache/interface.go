package cache

//go:generate mockgen -source=interface.go -destination=mock/cache_mock.go -package=mock

import (
	"context"
	"errors"
	"time"

	"assistgen/completion"
)

// Service defines the interface for semantic cache operations. Every call is
// scoped to one Partition; backends never read or write across partitions.
type Service interface {
	// Lookup returns the stored answer for conv, or ok=false on a miss.
	Lookup(ctx context.Context, p Partition, conv completion.Conversation) (answer string, ok bool, err error)
	// Update inserts or overwrites the answer for conv and evicts the least
	// recently used entries beyond the partition budget.
	Update(ctx context.Context, p Partition, conv completion.Conversation, answer string) error
	Shutdown()
}

// AnonymousUser is the user id of requests that carry none. It is reserved:
// callers must not accept it as a client-supplied id.
const AnonymousUser = "anonymous"

var ErrReservedUserID = errors.New("user id is reserved")

// CheckUserID rejects client-supplied ids that would alias the anonymous
// partition. An empty id is fine and means anonymous.
func CheckUserID(userID string) error {
	if userID == AnonymousUser {
		return ErrReservedUserID
	}
	return nil
}

// Partition is an isolated cache namespace.
type Partition struct {
	Prefix string
	UserID string
}

// NewPartition normalizes an empty user id to AnonymousUser.
func NewPartition(prefix, userID string) Partition {
	if userID == "" {
		userID = AnonymousUser
	}
	return Partition{Prefix: prefix, UserID: userID}
}

func (p Partition) String() string {
	return p.Prefix + ":" + p.UserID
}

// Entry is one cached answer.
type Entry struct {
	Fingerprint string
	Vector      []float32
	Response    string
	UserID      string
	CreatedAt   time.Time
	LastHitAt   time.Time
	HitCount    int64
}

// Stats reports backend counters.
type Stats struct {
	Partitions int   `json:"partitions"`
	Entries    int64 `json:"entries"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
}
