// Package realm authenticates users declared by a deployed application and
// enforces the application's security constraints.
package realm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v2"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnknownUser      = errors.New("realm: unknown user")
	ErrPasswordMismatch = errors.New("realm: password does not match")
	ErrInvalidHash      = errors.New("realm: invalid password hash")
	ErrInvalidPattern   = errors.New("realm: invalid constraint pattern")
	ErrMissingRole      = errors.New("realm: principal lacks required role")
	ErrNoCredentials    = errors.New("realm: credentials required")
)

// DefaultCost is the bcrypt cost used when callers do not pick one.
const DefaultCost = bcrypt.DefaultCost

// User is a realm member identified by name and a bcrypt password hash.
type User struct {
	Name         string
	PasswordHash string
	Roles        []string
}

// Constraint protects every request path matching Pattern, a doublestar glob
// rooted at "/". An empty Methods list applies the constraint to all methods.
type Constraint struct {
	Pattern string
	Methods []string
	Roles   []string
}

func (c Constraint) appliesTo(method, path string) bool {
	if len(c.Methods) > 0 {
		found := false
		for _, m := range c.Methods {
			if strings.EqualFold(m, method) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	ok, err := doublestar.Match(c.Pattern, path)
	return err == nil && ok
}

// Principal is an authenticated user.
type Principal struct {
	Name  string
	Roles []string
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Realm holds the users and constraints of one application.
type Realm struct {
	name        string
	users       map[string]User
	constraints []Constraint
}

// HashPassword bcrypt-hashes plain. Costs outside bcrypt's range fall back to DefaultCost.
func HashPassword(plain string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("realm: bcrypt hash failed: %w", err)
	}
	return string(hashed), nil
}

// New validates users and constraints and builds a Realm.
func New(name string, users []User, constraints []Constraint) (*Realm, error) {
	r := &Realm{
		name:        name,
		users:       make(map[string]User, len(users)),
		constraints: make([]Constraint, 0, len(constraints)),
	}
	for _, u := range users {
		if u.Name == "" {
			return nil, errors.New("realm: user name is required")
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("%w: user %q", ErrInvalidHash, u.Name)
		}
		u.Roles = append([]string(nil), u.Roles...)
		r.users[u.Name] = u
	}
	for _, c := range constraints {
		if !strings.HasPrefix(c.Pattern, "/") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, c.Pattern)
		}
		r.constraints = append(r.constraints, c)
	}
	return r, nil
}

// Name returns the realm name announced in authentication challenges.
func (r *Realm) Name() string { return r.name }

// Users returns the member names in sorted order.
func (r *Realm) Users() []string {
	names := make([]string, 0, len(r.users))
	for name := range r.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Authenticate checks the password of the named user.
func (r *Realm) Authenticate(ctx context.Context, name, password string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	u, ok := r.users[name]
	if !ok {
		return Principal{}, ErrUnknownUser
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return Principal{}, ErrPasswordMismatch
		}
		return Principal{}, fmt.Errorf("realm: bcrypt compare failed: %w", err)
	}
	return Principal{Name: u.Name, Roles: append([]string(nil), u.Roles...)}, nil
}

// Match returns the first constraint protecting method and path.
func (r *Realm) Match(method, path string) (Constraint, bool) {
	for _, c := range r.constraints {
		if c.appliesTo(method, path) {
			return c, true
		}
	}
	return Constraint{}, false
}

// Authorize reports ErrMissingRole unless p holds one of the constraint's roles.
// A constraint without roles only requires authentication.
func Authorize(p Principal, c Constraint) error {
	if len(c.Roles) == 0 {
		return nil
	}
	for _, role := range c.Roles {
		if p.HasRole(role) {
			return nil
		}
	}
	return ErrMissingRole
}
