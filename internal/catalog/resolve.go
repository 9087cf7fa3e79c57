package catalog

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"sharesheet/internal/types"
)

// QueryIntentActivities returns the activities installed for user that can
// handle intent, best first. Profiles user forwards to contribute one
// forwarder candidate each, with TargetUserID set to that profile.
func (c *Catalog) QueryIntentActivities(ctx context.Context, intent *types.Intent, user types.UserHandle, flags types.QueryFlags) ([]*types.ResolveInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.userLocked(user)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}

	if !intent.Component.IsZero() {
		return c.resolveExplicitLocked(intent, user), nil
	}

	out := c.matchLocked(intent, user, flags)
	for _, target := range spec.ForwardTo {
		other := types.UserHandle(target)
		if other == user {
			continue
		}
		if _, known := c.userLocked(other); !known {
			continue
		}
		matches := c.matchLocked(intent, other, flags)
		if len(matches) == 0 {
			continue
		}
		out = append(out, c.forwarderLocked(matches[0], user, other))
	}
	sortResolveInfos(out)
	return out, nil
}

func (c *Catalog) resolveExplicitLocked(intent *types.Intent, user types.UserHandle) []*types.ResolveInfo {
	pkg, activity, ok := c.findActivityLocked(intent.Component)
	if !ok || !installedFor(pkg, user) {
		return nil
	}
	return []*types.ResolveInfo{newResolveInfo(pkg, activity, user, activity.Priority, false, 0)}
}

func (c *Catalog) matchLocked(intent *types.Intent, user types.UserHandle, flags types.QueryFlags) []*types.ResolveInfo {
	var out []*types.ResolveInfo
	for _, pkg := range c.file.Packages {
		if !installedFor(pkg, user) {
			continue
		}
		if intent.Package != "" && intent.Package != pkg.Name {
			continue
		}
		for _, activity := range pkg.Activities {
			best, bestFilter, matched := 0, FilterSpec{}, false
			for _, filter := range activity.Filters {
				match, ok := matchFilter(filter, intent, flags)
				if !ok {
					continue
				}
				if !matched || match > best {
					best, bestFilter, matched = match, filter, true
				}
			}
			if !matched {
				continue
			}
			isDefault := slices.Contains(bestFilter.Categories, types.CategoryDefault)
			out = append(out, newResolveInfo(pkg, activity, user, bestFilter.Priority+activity.Priority, isDefault, best))
		}
	}
	return out
}

func (c *Catalog) forwarderLocked(best *types.ResolveInfo, user, target types.UserHandle) *types.ResolveInfo {
	name := target.String()
	if spec, ok := c.userLocked(target); ok && strings.TrimSpace(spec.Name) != "" {
		name = spec.Name
	}
	handle := user
	return &types.ResolveInfo{
		Activity: types.ActivityInfo{
			Name:     forwarderComponent,
			Label:    "Switch to " + name + " profile",
			AppLabel: "Android System",
			Exported: true,
			Enabled:  true,
			AppUID:   1000,
		},
		Priority:     best.Priority,
		IsDefault:    true,
		Match:        best.Match,
		TargetUserID: target,
		UserHandle:   &handle,
	}
}

func newResolveInfo(pkg PackageSpec, activity ActivitySpec, user types.UserHandle, priority int, isDefault bool, match int) *types.ResolveInfo {
	handle := user
	icon := activity.Icon
	if icon == "" {
		icon = pkg.Icon
	}
	return &types.ResolveInfo{
		Activity: types.ActivityInfo{
			Name:       types.NewComponentName(pkg.Name, activity.Class),
			Label:      activity.Label,
			AppLabel:   pkg.Label,
			Icon:       icon,
			Permission: activity.Permission,
			Exported:   boolOr(activity.Exported, true),
			Enabled:    boolOr(activity.Enabled, true),
			Suspended:  pkg.Suspended,
			Persistent: pkg.Persistent,
			AppUID:     pkg.UID,
		},
		Priority:     priority,
		IsDefault:    isDefault,
		Match:        match,
		TargetUserID: types.UserCurrent,
		UserHandle:   &handle,
	}
}

func sortResolveInfos(infos []*types.ResolveInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		a, b := infos[i], infos[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		return a.Match > b.Match
	})
}

// matchFilter follows the IntentFilter rules: action, then categories, then
// data. The returned match carries the data match category.
func matchFilter(filter FilterSpec, intent *types.Intent, flags types.QueryFlags) (int, bool) {
	if intent.Action != "" {
		if !slices.Contains(filter.Actions, intent.Action) {
			return 0, false
		}
	} else if len(filter.Actions) == 0 {
		return 0, false
	}
	for _, category := range intent.Categories {
		if !slices.Contains(filter.Categories, category) {
			return 0, false
		}
	}
	if flags.Has(types.MatchDefaultOnly) && !slices.Contains(filter.Categories, types.CategoryDefault) {
		return 0, false
	}
	match, ok := matchData(filter, intent)
	if !ok {
		return 0, false
	}
	return match + types.MatchAdjustmentNormal, true
}

func matchData(filter FilterSpec, intent *types.Intent) (int, bool) {
	scheme := intent.Scheme()
	mime := strings.ToLower(strings.TrimSpace(intent.Type))
	if len(filter.Schemes) == 0 && len(filter.Types) == 0 {
		if scheme == "" && mime == "" {
			return types.MatchCategoryEmpty, true
		}
		return 0, false
	}

	match := types.MatchCategoryEmpty
	if len(filter.Schemes) > 0 {
		if !containsFold(filter.Schemes, scheme) {
			return 0, false
		}
		match = types.MatchCategoryScheme
		if len(filter.Hosts) > 0 {
			if !anyGlob(filter.Hosts, intent.Host()) {
				return 0, false
			}
			match = types.MatchCategoryHost
			if len(filter.Paths) > 0 {
				if !anyGlob(filter.Paths, intent.Path()) {
					return 0, false
				}
				match = types.MatchCategoryPath
			}
		}
	} else if scheme != "" && scheme != "content" && scheme != "file" {
		return 0, false
	}

	if len(filter.Types) > 0 {
		if mime == "" || !matchMimeType(filter.Types, mime) {
			return 0, false
		}
		match = types.MatchCategoryType
	} else if mime != "" {
		return 0, false
	}
	return match, true
}

// matchMimeType matches an intent type, which may itself be a wildcard such
// as "image/*" for mixed shares, against filter patterns.
func matchMimeType(patterns []string, mime string) bool {
	base, _, _ := strings.Cut(mime, "/")
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		switch {
		case pattern == "*" || pattern == "*/*":
			return true
		case mime == "*/*":
			return true
		case strings.HasSuffix(mime, "/*") && strings.HasPrefix(pattern, base+"/"):
			return true
		}
		if ok, err := doublestar.Match(pattern, mime); err == nil && ok {
			return true
		}
	}
	return false
}

func anyGlob(patterns []string, value string) bool {
	value = strings.ToLower(value)
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == value {
			return true
		}
		if ok, err := doublestar.Match(pattern, value); err == nil && ok {
			return true
		}
	}
	return false
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), want) {
			return true
		}
	}
	return false
}
