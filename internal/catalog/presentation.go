package catalog

import (
	"context"
	"slices"
	"strings"

	"sharesheet/internal/types"
)

// LoadLabel returns the label and sublabel of the activity behind info.
func (c *Catalog) LoadLabel(ctx context.Context, info *types.ResolveInfo) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if info == nil {
		return "", "", ErrLabelNotFound
	}
	if info.ComponentName() == forwarderComponent {
		return info.Activity.Label, "", nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	pkg, activity, ok := c.findActivityLocked(info.ComponentName())
	if !ok {
		return "", "", ErrLabelNotFound
	}
	label := firstNonEmpty(info.NonLocalizedLabel, activity.Label, pkg.Label)
	if label == "" {
		return "", "", ErrLabelNotFound
	}
	return label, firstNonEmpty(activity.Sublabel, pkg.Label), nil
}

// LoadIcon returns the icon reference of the activity behind info, falling
// back to the package icon.
func (c *Catalog) LoadIcon(ctx context.Context, info *types.ResolveInfo) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if info == nil {
		return "", ErrIconNotFound
	}
	if info.Icon != "" {
		return info.Icon, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	pkg, activity, ok := c.findActivityLocked(info.ComponentName())
	if !ok {
		return "", ErrIconNotFound
	}
	if icon := firstNonEmpty(activity.Icon, pkg.Icon); icon != "" {
		return icon, nil
	}
	return "", ErrIconNotFound
}

// QueryShareShortcuts returns the sharing shortcuts published for user whose
// types accept the intent's type.
func (c *Catalog) QueryShareShortcuts(ctx context.Context, user types.UserHandle, intent *types.Intent) ([]types.ShareShortcut, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.userLocked(user); !ok {
		return nil, ErrUnknownUser
	}
	mime := ""
	if intent != nil {
		mime = strings.ToLower(strings.TrimSpace(intent.Type))
	}
	var out []types.ShareShortcut
	for _, pkg := range c.file.Packages {
		if !installedFor(pkg, user) || pkg.Suspended {
			continue
		}
		for _, shortcut := range pkg.Shortcuts {
			if strings.TrimSpace(shortcut.ID) == "" || strings.TrimSpace(shortcut.Activity) == "" {
				continue
			}
			if len(shortcut.Users) > 0 && !slices.Contains(shortcut.Users, int(user)) {
				continue
			}
			if len(shortcut.Types) > 0 && (mime == "" || !matchMimeType(shortcut.Types, mime)) {
				continue
			}
			out = append(out, types.ShareShortcut{
				Info: types.ShortcutInfo{
					ID:      shortcut.ID,
					Package: pkg.Name,
					Label:   shortcut.Label,
					Rank:    shortcut.Rank,
					Pinned:  shortcut.Pinned,
				},
				Target: types.NewComponentName(pkg.Name, shortcut.Activity),
			})
		}
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
