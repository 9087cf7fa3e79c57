package types

// IntentFilter match categories, as reported in ResolveInfo.Match.
const (
	MatchCategoryMask               = 0x0fff0000
	MatchAdjustmentMask             = 0x0000ffff
	MatchCategoryEmpty              = 0x00100000
	MatchCategoryScheme             = 0x00200000
	MatchCategoryHost               = 0x00300000
	MatchCategoryPort               = 0x00400000
	MatchCategoryPath               = 0x00500000
	MatchCategorySchemeSpecificPart = 0x00580000
	MatchCategoryType               = 0x00600000
	MatchAdjustmentNormal           = 0x8000
)

// IsSpecificURIMatch reports whether match is a host, port or path match,
// as opposed to a scheme-only or type-only match.
func IsSpecificURIMatch(match int) bool {
	match &= MatchCategoryMask
	return match >= MatchCategoryHost && match <= MatchCategoryPath
}

type ActivityInfo struct {
	Name       ComponentName `json:"name"`
	Label      string        `json:"label,omitempty"`
	AppLabel   string        `json:"app_label,omitempty"`
	Icon       string        `json:"icon,omitempty"`
	Permission string        `json:"permission,omitempty"`
	Exported   bool          `json:"exported"`
	Enabled    bool          `json:"enabled"`
	Suspended  bool          `json:"suspended,omitempty"`
	Persistent bool          `json:"persistent,omitempty"`
	AppUID     int           `json:"app_uid,omitempty"`
}

// ResolveInfo is one activity resolved for an intent. TargetUserID is
// UserCurrent unless the activity lives in another profile and is reached
// through cross-profile forwarding.
type ResolveInfo struct {
	Activity          ActivityInfo `json:"activity"`
	Priority          int          `json:"priority"`
	IsDefault         bool         `json:"is_default"`
	Match             int          `json:"match"`
	TargetUserID      UserHandle   `json:"target_user_id"`
	UserHandle        *UserHandle  `json:"user_handle,omitempty"`
	NonLocalizedLabel string       `json:"non_localized_label,omitempty"`
	Icon              string       `json:"icon,omitempty"`
}

func (r *ResolveInfo) ComponentName() ComponentName {
	if r == nil {
		return ComponentName{}
	}
	return r.Activity.Name
}

func (r *ResolveInfo) IsOtherProfile() bool {
	return r != nil && r.TargetUserID != UserCurrent
}

// Label returns the label used for sorting: the non-localized label, then
// the activity label, then the app label, then the class name.
func (r *ResolveInfo) Label() string {
	if r == nil {
		return ""
	}
	switch {
	case r.NonLocalizedLabel != "":
		return r.NonLocalizedLabel
	case r.Activity.Label != "":
		return r.Activity.Label
	case r.Activity.AppLabel != "":
		return r.Activity.AppLabel
	default:
		return r.Activity.Name.Class
	}
}

func (r *ResolveInfo) Clone() *ResolveInfo {
	if r == nil {
		return nil
	}
	out := *r
	if r.UserHandle != nil {
		h := *r.UserHandle
		out.UserHandle = &h
	}
	return &out
}

// ResolveInfoMatch reports whether two resolve infos point at the same
// activity for the same target user.
func ResolveInfoMatch(a, b *ResolveInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Activity.Name == b.Activity.Name && a.TargetUserID == b.TargetUserID
}
