// Package webarchive builds, packages and reads deployable web application
// archives: a zip of static resources plus a manifest declaring routes,
// welcome files and security constraints.
package webarchive

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/adeilh/go-rakh-harness/realm"
	"github.com/bmatcuk/doublestar/v2"
)

// Extension is the file extension used for staged archives.
const Extension = ".war"

var (
	ErrInvalidName     = errors.New("webarchive: invalid application name")
	ErrInvalidManifest = errors.New("webarchive: invalid manifest")
	ErrUnsafePath      = errors.New("webarchive: unsafe resource path")
	ErrMissingResource = errors.New("webarchive: missing resource")
	ErrNotArchive      = errors.New("webarchive: not a zip archive")
	ErrMissingManifest = errors.New("webarchive: manifest not found")
	ErrExists          = errors.New("webarchive: target already exists")
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidName reports whether name can serve as an application identifier and
// therefore as a single URL path segment and directory name.
func ValidName(name string) bool {
	return nameRE.MatchString(name) && name != "." && name != ".."
}

// Archive is the in-memory form of a deployable application. Builder methods
// return the receiver for chaining; the first failure is kept and reported by
// Err, Validate and the export methods.
type Archive struct {
	manifest  Manifest
	resources map[string][]byte
	err       error
}

func New(name string) *Archive {
	a := &Archive{
		manifest:  Manifest{Name: name},
		resources: make(map[string][]byte),
	}
	if !ValidName(name) {
		a.err = fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return a
}

func (a *Archive) Name() string { return a.manifest.Name }

// Err returns the first builder error.
func (a *Archive) Err() error { return a.err }

func (a *Archive) fail(err error) *Archive {
	if a.err == nil {
		a.err = err
	}
	return a
}

// Manifest returns a copy of the archive's manifest.
func (a *Archive) Manifest() Manifest {
	m := a.manifest
	m.WelcomeFiles = append([]string(nil), a.manifest.WelcomeFiles...)
	m.Routes = append([]Route(nil), a.manifest.Routes...)
	m.Constraints = append([]Constraint(nil), a.manifest.Constraints...)
	m.Users = append([]User(nil), a.manifest.Users...)
	return m
}

// AddResource stores data under the slash-separated resource name.
func (a *Archive) AddResource(name string, data []byte) *Archive {
	clean, err := cleanName(name)
	if err != nil {
		return a.fail(err)
	}
	if clean == ManifestPath {
		return a.fail(fmt.Errorf("%w: %s is reserved", ErrUnsafePath, ManifestPath))
	}
	a.resources[clean] = append([]byte(nil), data...)
	return a
}

func (a *Archive) AddString(name, content string) *Archive {
	return a.AddResource(name, []byte(content))
}

// AddFS copies every regular file of fsys whose path matches the doublestar
// pattern, keeping the path relative to the root of fsys.
func (a *Archive) AddFS(fsys fs.FS, pattern string) *Archive {
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ok, err := doublestar.Match(pattern, p)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		a.AddResource(p, data)
		return nil
	})
	if err != nil {
		return a.fail(fmt.Errorf("webarchive: add fs %q: %w", pattern, err))
	}
	return a
}

func (a *Archive) AddRoute(r Route) *Archive {
	a.manifest.Routes = append(a.manifest.Routes, r.withDefaults())
	return a
}

func (a *Archive) SetWelcomeFiles(files ...string) *Archive {
	a.manifest.WelcomeFiles = append([]string(nil), files...)
	return a
}

// SetRealm names the realm announced in authentication challenges.
func (a *Archive) SetRealm(name string) *Archive {
	a.manifest.Realm = name
	return a
}

func (a *Archive) AddConstraint(c Constraint) *Archive {
	a.manifest.Constraints = append(a.manifest.Constraints, c)
	return a
}

// AddUser hashes password and declares a realm member.
func (a *Archive) AddUser(name, password string, roles ...string) *Archive {
	return a.AddUserWithCost(name, password, realm.DefaultCost, roles...)
}

// AddUserWithCost is AddUser with an explicit bcrypt cost.
func (a *Archive) AddUserWithCost(name, password string, cost int, roles ...string) *Archive {
	hash, err := realm.HashPassword(password, cost)
	if err != nil {
		return a.fail(err)
	}
	a.manifest.Users = append(a.manifest.Users, User{Name: name, PasswordHash: hash, Roles: roles})
	return a
}

// Resources lists resource names in sorted order.
func (a *Archive) Resources() []string {
	names := make([]string, 0, len(a.resources))
	for name := range a.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resource returns the bytes stored under name.
func (a *Archive) Resource(name string) ([]byte, bool) {
	clean, err := cleanName(name)
	if err != nil {
		return nil, false
	}
	data, ok := a.resources[clean]
	return data, ok
}

// Validate checks builder errors, the manifest, and that every route resource
// is packaged.
func (a *Archive) Validate() error {
	if a.err != nil {
		return a.err
	}
	if err := a.manifest.validate(); err != nil {
		return err
	}
	for _, r := range a.manifest.Routes {
		if r.Resource == "" {
			continue
		}
		if _, ok := a.Resource(r.Resource); !ok {
			return fmt.Errorf("%w: route %s %s references %q", ErrMissingResource, r.Method, r.Path, r.Resource)
		}
	}
	return nil
}

func cleanName(name string) (string, error) {
	if name == "" || strings.Contains(name, "\\") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	clean := path.Clean(strings.TrimPrefix(name, "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return clean, nil
}
