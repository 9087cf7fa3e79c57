package catalog

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"sharesheet/internal/types"
)

var (
	ErrUnknownUser    = errors.New("catalog: unknown user")
	ErrIconNotFound   = errors.New("catalog: icon not found")
	ErrLabelNotFound  = errors.New("catalog: label not found")
	ErrInvalidCatalog = errors.New("catalog: invalid catalog")
)

// forwarderComponent is the activity standing in for every candidate that
// lives in a profile reached through cross-profile forwarding.
var forwarderComponent = types.ComponentName{
	Package: "android",
	Class:   "com.android.internal.app.IntentForwarderActivity",
}

// File is the YAML layout of a package catalog.
type File struct {
	Caller   CallerSpec    `yaml:"caller"`
	Users    []UserSpec    `yaml:"users"`
	Packages []PackageSpec `yaml:"packages"`
	Usage    []UsageSpec   `yaml:"usage"`
}

type CallerSpec struct {
	UID         int      `yaml:"uid"`
	Permissions []string `yaml:"permissions"`
}

type UserSpec struct {
	ID        int    `yaml:"id"`
	Name      string `yaml:"name"`
	ForwardTo []int  `yaml:"forward_to"`
}

type PackageSpec struct {
	Name       string         `yaml:"name"`
	Label      string         `yaml:"label"`
	Icon       string         `yaml:"icon"`
	UID        int            `yaml:"uid"`
	Users      []int          `yaml:"users"`
	Persistent bool           `yaml:"persistent"`
	Suspended  bool           `yaml:"suspended"`
	Activities []ActivitySpec `yaml:"activities"`
	Shortcuts  []ShortcutSpec `yaml:"shortcuts"`
}

type ActivitySpec struct {
	Class      string       `yaml:"class"`
	Label      string       `yaml:"label"`
	Sublabel   string       `yaml:"sublabel"`
	Icon       string       `yaml:"icon"`
	Permission string       `yaml:"permission"`
	Exported   *bool        `yaml:"exported"`
	Enabled    *bool        `yaml:"enabled"`
	Priority   int          `yaml:"priority"`
	Filters    []FilterSpec `yaml:"filters"`
}

type FilterSpec struct {
	Actions    []string `yaml:"actions"`
	Categories []string `yaml:"categories"`
	Types      []string `yaml:"types"`
	Schemes    []string `yaml:"schemes"`
	Hosts      []string `yaml:"hosts"`
	Paths      []string `yaml:"paths"`
	Priority   int      `yaml:"priority"`
}

type ShortcutSpec struct {
	ID       string   `yaml:"id"`
	Label    string   `yaml:"label"`
	Rank     int      `yaml:"rank"`
	Pinned   bool     `yaml:"pinned"`
	Activity string   `yaml:"activity"`
	Types    []string `yaml:"types"`
	Users    []int    `yaml:"users"`
}

type UsageSpec struct {
	User          int                       `yaml:"user"`
	Package       string                    `yaml:"package"`
	LastUsed      time.Time                 `yaml:"last_used"`
	ForegroundMS  int64                     `yaml:"foreground_ms"`
	LaunchCount   int                       `yaml:"launch_count"`
	ChooserCounts map[string]map[string]int `yaml:"chooser_counts"`
}

// Catalog is an in-memory package manager built from a YAML file. It is safe
// for concurrent use and can be reloaded in place.
type Catalog struct {
	mu   sync.RWMutex
	path string
	file File
}

func Load(path string) (*Catalog, error) {
	c := &Catalog{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse builds a catalog from YAML bytes.
func Parse(data []byte) (*Catalog, error) {
	file, err := decode(data)
	if err != nil {
		return nil, err
	}
	return &Catalog{file: file}, nil
}

// Reload re-reads the catalog file. On error the previous contents stay.
func (c *Catalog) Reload() error {
	if c == nil || strings.TrimSpace(c.path) == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	file, err := decode(data)
	if err != nil {
		return fmt.Errorf("failed to parse catalog %s: %w", c.path, err)
	}
	c.mu.Lock()
	c.file = file
	c.mu.Unlock()
	return nil
}

func (c *Catalog) Path() string {
	if c == nil {
		return ""
	}
	return c.path
}

func decode(data []byte) (File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return File{}, err
	}
	if err := validate(file); err != nil {
		return File{}, err
	}
	return file, nil
}

func validate(file File) error {
	seen := map[string]struct{}{}
	for _, pkg := range file.Packages {
		name := strings.TrimSpace(pkg.Name)
		if name == "" {
			return fmt.Errorf("%w: package without name", ErrInvalidCatalog)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate package %s", ErrInvalidCatalog, name)
		}
		seen[name] = struct{}{}
		for _, activity := range pkg.Activities {
			if strings.TrimSpace(activity.Class) == "" {
				return fmt.Errorf("%w: activity without class in %s", ErrInvalidCatalog, name)
			}
		}
	}
	return nil
}

// Users returns the profiles of the device, the first being the owner.
func (c *Catalog) Users() []types.UserHandle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.UserHandle, 0, len(c.file.Users))
	for _, user := range c.file.Users {
		out = append(out, types.UserHandle(user.ID))
	}
	if len(out) == 0 {
		out = append(out, 0)
	}
	return out
}

// UserName returns the profile name, or the numeric id when unnamed.
func (c *Catalog) UserName(user types.UserHandle) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if spec, ok := c.userLocked(user); ok && strings.TrimSpace(spec.Name) != "" {
		return spec.Name
	}
	return user.String()
}

func (c *Catalog) userLocked(user types.UserHandle) (UserSpec, bool) {
	for _, spec := range c.file.Users {
		if types.UserHandle(spec.ID) == user {
			return spec, true
		}
	}
	if user == 0 && len(c.file.Users) == 0 {
		return UserSpec{ID: 0}, true
	}
	return UserSpec{}, false
}

// CheckPermission reports whether the calling app holds permission. An
// empty permission is always granted.
func (c *Catalog) CheckPermission(permission string) bool {
	permission = strings.TrimSpace(permission)
	if permission == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Contains(c.file.Caller.Permissions, permission)
}

func (c *Catalog) CallerUID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.file.Caller.UID
}

// SeedUsage returns the usage stats declared in the catalog for user.
func (c *Catalog) SeedUsage(user types.UserHandle) []*types.UsageStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*types.UsageStats
	for _, spec := range c.file.Usage {
		if types.UserHandle(spec.User) != user || strings.TrimSpace(spec.Package) == "" {
			continue
		}
		stats := &types.UsageStats{
			Package:               spec.Package,
			LastTimeUsed:          spec.LastUsed,
			TotalTimeInForeground: time.Duration(spec.ForegroundMS) * time.Millisecond,
			LaunchCount:           spec.LaunchCount,
			ChooserCounts:         spec.ChooserCounts,
		}
		out = append(out, stats.Clone())
	}
	return out
}

func (c *Catalog) findActivityLocked(name types.ComponentName) (PackageSpec, ActivitySpec, bool) {
	for _, pkg := range c.file.Packages {
		if pkg.Name != name.Package {
			continue
		}
		for _, activity := range pkg.Activities {
			if types.NewComponentName(pkg.Name, activity.Class) == name {
				return pkg, activity, true
			}
		}
	}
	return PackageSpec{}, ActivitySpec{}, false
}

func installedFor(pkg PackageSpec, user types.UserHandle) bool {
	if len(pkg.Users) == 0 {
		return user == 0
	}
	return slices.Contains(pkg.Users, int(user))
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
