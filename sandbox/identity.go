package sandbox

import (
	"fmt"
	"os/user"
	"strconv"
)

// Identity is the user a worker runs as.
type Identity struct {
	Name string
	UID  int
	GID  int
}

func (id Identity) String() string {
	return fmt.Sprintf("%s(%d:%d)", id.Name, id.UID, id.GID)
}

// IdentityResolver maps a user name to its numeric identity.
type IdentityResolver interface {
	Resolve(name string) (Identity, error)
}

// UserResolver resolves names through the system user database.
type UserResolver struct{}

func (UserResolver) Resolve(name string) (Identity, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return Identity{}, err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return Identity{}, fmt.Errorf("sandbox: user %s has non-numeric uid %q", name, u.Uid)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return Identity{}, fmt.Errorf("sandbox: user %s has non-numeric gid %q", name, u.Gid)
	}
	return Identity{Name: name, UID: uid, GID: gid}, nil
}

// StaticResolver resolves from a fixed table.
type StaticResolver map[string]Identity

func (s StaticResolver) Resolve(name string) (Identity, error) {
	id, ok := s[name]
	if !ok {
		return Identity{}, user.UnknownUserError(name)
	}
	if id.Name == "" {
		id.Name = name
	}
	return id, nil
}
