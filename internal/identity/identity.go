// Package identity maps scraped (uid, username, email) claims onto stable
// actor records.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/djesaja/backstage-ingest/internal/model"
	"github.com/djesaja/backstage-ingest/internal/store"
)

// ErrUnresolvable is returned for a claim carrying neither uid nor username.
var ErrUnresolvable = eris.New("identity: cannot resolve identity")

// InitialCredential is the placeholder password of actors created by the
// pipeline. It is not a valid hash, so nobody can log in with it until the
// account is claimed.
const InitialCredential = "!unclaimed"

// Store is the transactional surface the resolver needs. store.Tx satisfies it.
type Store interface {
	ActorByUID(ctx context.Context, uid string) (*model.Actor, error)
	ActorByUsername(ctx context.Context, username string) (*model.Actor, error)
	UsernameTaken(ctx context.Context, username string, excludeID int64) (bool, error)
	EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error)
	CreateActor(ctx context.Context, a *model.Actor) error
	UpdateActor(ctx context.Context, a *model.Actor) error
}

// Claim is what a scrape knows about an actor.
type Claim struct {
	UID      string
	Username string
	Role     model.Role
	Name     string
	Email    string
}

// Resolver resolves claims to actors.
type Resolver struct {
	log *zap.Logger
}

// NewResolver returns a Resolver logging through the global zap logger.
func NewResolver() *Resolver {
	return &Resolver{log: zap.L().With(zap.String("component", "identity"))}
}

// Resolve finds or creates the actor for c. created reports whether a new
// actor was inserted. Resolving the same claim twice yields the same actor
// and no further writes.
func (r *Resolver) Resolve(ctx context.Context, st Store, c Claim) (actor *model.Actor, created bool, err error) {
	if c.UID == "" && c.Username == "" {
		return nil, false, ErrUnresolvable
	}

	actor, err = r.lookup(ctx, st, c)
	if err != nil {
		return nil, false, err
	}
	if actor != nil {
		return actor, false, r.reconcile(ctx, st, actor, c)
	}

	actor, err = r.create(ctx, st, c)
	if err != nil {
		return nil, false, err
	}
	return actor, true, nil
}

func (r *Resolver) lookup(ctx context.Context, st Store, c Claim) (*model.Actor, error) {
	if c.UID != "" {
		a, err := st.ActorByUID(ctx, c.UID)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrap(err, "identity: lookup by uid")
		}
	}
	if c.Username != "" {
		a, err := st.ActorByUsername(ctx, c.Username)
		if err == nil {
			// A different uid means a different person that happens to share
			// the display name.
			if c.UID != "" && a.UID != "" && a.UID != c.UID {
				return nil, nil
			}
			return a, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrap(err, "identity: lookup by username")
		}
	}
	return nil, nil
}

func (r *Resolver) reconcile(ctx context.Context, st Store, a *model.Actor, c Claim) error {
	changed := false

	if c.Username != "" && c.Username != a.Username {
		name, err := freeUsername(ctx, st, c.Username, a.ID)
		if err != nil {
			return err
		}
		if name != a.Username {
			r.log.Info("renaming actor",
				zap.Int64("actor_id", a.ID),
				zap.String("from", a.Username),
				zap.String("to", name),
			)
			a.Username = name
			changed = true
		}
	}
	if a.UID == "" && c.UID != "" {
		a.UID = c.UID
		changed = true
	}
	if c.Role != "" && c.Role != a.Role {
		a.Role = c.Role
		changed = true
	}
	if c.Name != "" && c.Name != a.Name {
		a.Name = c.Name
		changed = true
	}
	if a.Email == "" && c.Email != "" {
		taken, err := st.EmailTaken(ctx, c.Email, a.ID)
		if err != nil {
			return eris.Wrap(err, "identity: check email")
		}
		if taken {
			r.log.Warn("email owned by another actor",
				zap.Int64("actor_id", a.ID),
				zap.String("email", c.Email),
			)
		} else {
			a.Email = c.Email
			a.EmailVerified = true
			changed = true
		}
	}

	if !changed {
		return nil
	}
	return eris.Wrapf(st.UpdateActor(ctx, a), "identity: update actor %d", a.ID)
}

func (r *Resolver) create(ctx context.Context, st Store, c Claim) (*model.Actor, error) {
	base := c.Username
	if base == "" {
		base = "unknown_" + c.UID
	}
	name, err := freeUsername(ctx, st, base, 0)
	if err != nil {
		return nil, err
	}

	a := &model.Actor{
		UID:      c.UID,
		Username: name,
		Name:     c.Name,
		Role:     c.Role,
		Password: InitialCredential,
	}
	if a.Role == "" {
		a.Role = model.RoleCreator
	}
	if c.Email != "" {
		taken, err := st.EmailTaken(ctx, c.Email, 0)
		if err != nil {
			return nil, eris.Wrap(err, "identity: check email")
		}
		if !taken {
			a.Email = c.Email
			a.EmailVerified = true
		}
	}

	if err := st.CreateActor(ctx, a); err != nil {
		return nil, eris.Wrapf(err, "identity: create actor %s", name)
	}
	r.log.Debug("created actor",
		zap.Int64("actor_id", a.ID),
		zap.String("username", a.Username),
		zap.String("role", string(a.Role)),
	)
	return a, nil
}

// freeUsername returns base if no actor other than excludeID holds it, else
// the first free base_N for N = 1, 2, ...
func freeUsername(ctx context.Context, st Store, base string, excludeID int64) (string, error) {
	candidate := base
	for n := 1; ; n++ {
		taken, err := st.UsernameTaken(ctx, candidate, excludeID)
		if err != nil {
			return "", eris.Wrap(err, "identity: check username")
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d", base, n)
	}
}
