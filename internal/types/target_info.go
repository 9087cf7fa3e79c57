package types

import (
	"slices"
	"sync"
)

// TargetKind discriminates the TargetInfo variants.
type TargetKind uint8

const (
	KindDisplayResolve TargetKind = iota + 1
	KindMultiDisplayResolve
	KindSelectable
	KindPlaceholder
	KindEmpty
)

func (k TargetKind) String() string {
	switch k {
	case KindDisplayResolve:
		return "display_resolve"
	case KindMultiDisplayResolve:
		return "multi_display_resolve"
	case KindSelectable:
		return "selectable"
	case KindPlaceholder:
		return "placeholder"
	case KindEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// TargetInfo is one cell of the chooser. Exactly one payload is set,
// matching Kind.
type TargetInfo struct {
	Kind       TargetKind
	Display    *DisplayResolveInfo
	Multi      *MultiDisplayResolveInfo
	Selectable *SelectableTargetInfo
}

func DisplayTarget(dri *DisplayResolveInfo) TargetInfo {
	return TargetInfo{Kind: KindDisplayResolve, Display: dri}
}

func MultiTarget(multi *MultiDisplayResolveInfo) TargetInfo {
	return TargetInfo{Kind: KindMultiDisplayResolve, Multi: multi}
}

func SelectableTarget(sti *SelectableTargetInfo) TargetInfo {
	return TargetInfo{Kind: KindSelectable, Selectable: sti}
}

func PlaceholderTarget() TargetInfo {
	return TargetInfo{Kind: KindPlaceholder}
}

func EmptyTarget() TargetInfo {
	return TargetInfo{Kind: KindEmpty}
}

func (t TargetInfo) IsSelectable() bool {
	switch t.Kind {
	case KindDisplayResolve, KindMultiDisplayResolve, KindSelectable:
		return true
	case KindPlaceholder, KindEmpty:
		return false
	}
	return false
}

// ResolveInfo returns the resolve info behind the target, if any.
func (t TargetInfo) ResolveInfo() *ResolveInfo {
	switch t.Kind {
	case KindDisplayResolve:
		return t.Display.ResolveInfo
	case KindMultiDisplayResolve:
		if len(t.Multi.Targets) > 0 {
			return t.Multi.Targets[0].ResolveInfo
		}
	case KindSelectable:
		if t.Selectable.Source != nil {
			return t.Selectable.Source.ResolveInfo
		}
	case KindPlaceholder, KindEmpty:
	}
	return nil
}

// DisplayLabel is the label shown for the target.
func (t TargetInfo) DisplayLabel() string {
	switch t.Kind {
	case KindDisplayResolve:
		return t.Display.DisplayLabel()
	case KindMultiDisplayResolve:
		if len(t.Multi.Targets) > 0 {
			return t.Multi.Targets[0].DisplayLabel()
		}
	case KindSelectable:
		return t.Selectable.Title
	case KindPlaceholder, KindEmpty:
	}
	return ""
}

// DisplayResolveInfo is the UI projection of a resolved component or of a
// caller-supplied initial intent. Label, sublabel and icon are filled in
// by asynchronous loaders.
type DisplayResolveInfo struct {
	ResolvedIntent *Intent
	ResolveInfo    *ResolveInfo
	Pinned         bool
	IsOtherProfile bool

	mu            sync.RWMutex
	sourceIntents []*Intent
	displayLabel  string
	extendedInfo  string
	icon          string
	labelLoaded   bool
	iconLoaded    bool
}

func NewDisplayResolveInfo(original *Intent, info *ResolveInfo, resolved *Intent) *DisplayResolveInfo {
	if resolved == nil {
		resolved = original.Clone()
	}
	if resolved != nil {
		resolved = resolved.Clone()
		resolved.Component = info.ComponentName()
	}
	dri := &DisplayResolveInfo{ResolvedIntent: resolved, ResolveInfo: info}
	if original != nil {
		dri.sourceIntents = append(dri.sourceIntents, original)
	}
	return dri
}

func (d *DisplayResolveInfo) ComponentName() ComponentName {
	return d.ResolveInfo.ComponentName()
}

func (d *DisplayResolveInfo) AddAlternateSourceIntent(intent *Intent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sourceIntents = append(d.sourceIntents, intent)
}

func (d *DisplayResolveInfo) SourceIntents() []*Intent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.sourceIntents)
}

func (d *DisplayResolveInfo) SetDisplayLabel(label, extendedInfo string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.displayLabel = label
	d.extendedInfo = extendedInfo
	d.labelLoaded = true
}

func (d *DisplayResolveInfo) SetIcon(icon string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.icon = icon
	d.iconLoaded = true
}

func (d *DisplayResolveInfo) DisplayLabel() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.displayLabel
}

func (d *DisplayResolveInfo) ExtendedInfo() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.extendedInfo
}

func (d *DisplayResolveInfo) Icon() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.icon
}

func (d *DisplayResolveInfo) HasDisplayLabel() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.labelLoaded
}

func (d *DisplayResolveInfo) HasDisplayIcon() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.iconLoaded
}

// MultiDisplayResolveInfo groups several activities of one package into a
// single A-Z list entry.
type MultiDisplayResolveInfo struct {
	Package  string
	Targets  []*DisplayResolveInfo
	Selected int
}

func NewMultiDisplayResolveInfo(pkg string, targets []*DisplayResolveInfo) *MultiDisplayResolveInfo {
	return &MultiDisplayResolveInfo{Package: pkg, Targets: slices.Clone(targets), Selected: -1}
}

// SelectableTargetInfo is a direct-share target produced from a shortcut
// or a chooser target service.
type SelectableTargetInfo struct {
	Source        *DisplayResolveInfo
	Component     ComponentName
	Title         string
	ExtendedInfo  string
	ModifiedScore float64
	ShortcutID    string
	Pinned        bool
	Intent        *Intent
}

// IsSimilar reports whether two direct-share targets would show the same
// thing to the user.
func (s *SelectableTargetInfo) IsSimilar(other *SelectableTargetInfo) bool {
	if s == nil || other == nil {
		return false
	}
	return s.Component == other.Component &&
		s.Title == other.Title &&
		s.ExtendedInfo == other.ExtendedInfo
}
