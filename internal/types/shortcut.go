package types

// Direct-share result origins.
const (
	TargetTypeChooserService = iota
	TargetTypeShortcutsFromShortcutManager
	TargetTypeShortcutsFromPredictionService
)

// ChooserTarget is a direct-share candidate delivered by a shortcut source.
type ChooserTarget struct {
	Title      string        `json:"title" yaml:"title"`
	Component  ComponentName `json:"component" yaml:"component"`
	Score      float64       `json:"score" yaml:"score"`
	ShortcutID string        `json:"shortcut_id,omitempty" yaml:"shortcut_id,omitempty"`
	Intent     *Intent       `json:"intent,omitempty" yaml:"intent,omitempty"`
}

// Key identifies the target within the shortcut caches.
func (c ChooserTarget) Key() string {
	return c.Component.FlattenToString() + "#" + c.ShortcutID
}

type ShortcutInfo struct {
	ID      string `json:"id" yaml:"id"`
	Package string `json:"package" yaml:"package"`
	Label   string `json:"label" yaml:"label"`
	Rank    int    `json:"rank" yaml:"rank"`
	Pinned  bool   `json:"pinned" yaml:"pinned"`
}

// AppTarget is the app-prediction representation of a share target.
type AppTarget struct {
	ID      string     `json:"id"`
	Package string     `json:"package"`
	Class   string     `json:"class"`
	User    UserHandle `json:"user"`
	Rank    int        `json:"rank"`
}

func (a AppTarget) ComponentName() ComponentName {
	return ComponentName{Package: a.Package, Class: a.Class}
}

func AppTargetFor(name ComponentName, user UserHandle) AppTarget {
	return AppTarget{ID: name.FlattenToString(), Package: name.Package, Class: name.Class, User: user}
}

// ShortcutResult is what a shortcut source returns for one app target of
// the display list. Shortcuts and AppTargets are keyed by ChooserTarget.Key.
type ShortcutResult struct {
	AppTarget  *DisplayResolveInfo
	Targets    []ChooserTarget
	TargetType int
	Shortcuts  map[string]ShortcutInfo
	AppTargets map[string]AppTarget
}

// ShareShortcut is a sharing shortcut published by an app, bound to the
// activity that receives it.
type ShareShortcut struct {
	Info   ShortcutInfo
	Target ComponentName
}
