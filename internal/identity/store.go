package identity

import (
	"context"

	"github.com/Demonslyr/posthog/internal/domain"
)

// Store runs the identity engine's mutations inside one relational
// transaction, holding row locks on every participating distinct-id for
// the duration of that transaction only. Implementations acquire the locks
// in the distinct-id-sorted order the caller passes in, satisfying the
// deterministic-lock-ordering strategy spec.md §4.6 offers as option (a).
type Store interface {
	WithIdentityTx(ctx context.Context, teamID int64, sortedDistinctIDs []string, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of operations available inside one identity transaction.
type Tx interface {
	// GetOrCreateMapping returns the person currently owning distinctID,
	// creating both a new Person and its mapping if none exists.
	GetOrCreateMapping(ctx context.Context, teamID int64, distinctID string) (personID int64, created bool, err error)

	GetPerson(ctx context.Context, personID int64) (*domain.Person, error)

	// SavePerson persists properties/is_identified/created_at/version/
	// force_upgrade as given; the caller bumps version before saving.
	SavePerson(ctx context.Context, p *domain.Person) error

	// ReassignMapping points distinctID at newPersonID and bumps the
	// mapping's version.
	ReassignMapping(ctx context.Context, teamID int64, distinctID string, newPersonID int64) error

	ListDistinctIDsForPerson(ctx context.Context, teamID, personID int64) ([]string, error)

	DeletePerson(ctx context.Context, personID int64) error
}
