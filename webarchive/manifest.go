package webarchive

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// ManifestPath is the archive entry holding the application descriptor.
const ManifestPath = "WEB-INF/web.json"

// Route declares a fixed response served by the deployed application.
// Body is ignored when Resource names a packaged file.
type Route struct {
	Method      string            `json:"method,omitempty"`
	Path        string            `json:"path"`
	Status      int               `json:"status,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
	Resource    string            `json:"resource,omitempty"`
}

func (r Route) withDefaults() Route {
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	r.Method = strings.ToUpper(r.Method)
	if r.Status == 0 {
		r.Status = http.StatusOK
	}
	return r
}

// Constraint restricts the paths matching Pattern to users holding one of Roles.
type Constraint struct {
	Pattern string   `json:"pattern"`
	Methods []string `json:"methods,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// User is a realm member; PasswordHash is a bcrypt hash.
type User struct {
	Name         string   `json:"name"`
	PasswordHash string   `json:"passwordHash"`
	Roles        []string `json:"roles,omitempty"`
}

// Manifest describes how the application behaves once deployed.
type Manifest struct {
	Name         string       `json:"name"`
	WelcomeFiles []string     `json:"welcomeFiles,omitempty"`
	Routes       []Route      `json:"routes,omitempty"`
	Realm        string       `json:"realm,omitempty"`
	Constraints  []Constraint `json:"constraints,omitempty"`
	Users        []User       `json:"users,omitempty"`
}

// DefaultWelcomeFiles are tried in order when the context root is requested.
var DefaultWelcomeFiles = []string{"index.html", "index.htm"}

func (m Manifest) validate() error {
	if !ValidName(m.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, m.Name)
	}
	seen := make(map[string]struct{}, len(m.Routes))
	for _, r := range m.Routes {
		r = r.withDefaults()
		if !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("%w: route path %q must start with /", ErrInvalidManifest, r.Path)
		}
		if r.Status < 100 || r.Status > 599 {
			return fmt.Errorf("%w: route %s %s has status %d", ErrInvalidManifest, r.Method, r.Path, r.Status)
		}
		key := r.Method + " " + r.Path
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate route %s", ErrInvalidManifest, key)
		}
		seen[key] = struct{}{}
	}
	for _, c := range m.Constraints {
		if !strings.HasPrefix(c.Pattern, "/") {
			return fmt.Errorf("%w: constraint pattern %q must start with /", ErrInvalidManifest, c.Pattern)
		}
	}
	if len(m.Constraints) > 0 && len(m.Users) == 0 {
		return fmt.Errorf("%w: constraints declared without users", ErrInvalidManifest)
	}
	return nil
}

func encodeManifest(m Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("webarchive: encode manifest: %w", err)
	}
	return data, nil
}

func decodeManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	for i, r := range m.Routes {
		m.Routes[i] = r.withDefaults()
	}
	return m, nil
}
