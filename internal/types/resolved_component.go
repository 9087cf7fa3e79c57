package types

import "errors"

var ErrComponentMismatch = errors.New("resolve info does not match component")

// ResolvedComponentInfo groups every (intent, resolve info) pair that
// resolved to the same activity during one rebuild.
type ResolvedComponentInfo struct {
	Name       ComponentName
	intents    []*Intent
	infos      []*ResolveInfo
	Pinned     bool
	FixedAtTop bool
}

func NewResolvedComponentInfo(name ComponentName, intent *Intent, info *ResolveInfo) *ResolvedComponentInfo {
	rci := &ResolvedComponentInfo{Name: name}
	rci.intents = append(rci.intents, intent)
	rci.infos = append(rci.infos, info)
	return rci
}

// Add appends an alternate intent that resolved to the same component.
func (r *ResolvedComponentInfo) Add(intent *Intent, info *ResolveInfo) error {
	if info == nil || info.ComponentName() != r.Name {
		return ErrComponentMismatch
	}
	r.intents = append(r.intents, intent)
	r.infos = append(r.infos, info)
	return nil
}

func (r *ResolvedComponentInfo) Count() int {
	if r == nil {
		return 0
	}
	return len(r.infos)
}

func (r *ResolvedComponentInfo) IntentAt(i int) *Intent {
	if r == nil || i < 0 || i >= len(r.intents) {
		return nil
	}
	return r.intents[i]
}

func (r *ResolvedComponentInfo) ResolveInfoAt(i int) *ResolveInfo {
	if r == nil || i < 0 || i >= len(r.infos) {
		return nil
	}
	return r.infos[i]
}

func (r *ResolvedComponentInfo) FindIntent(intent *Intent) int {
	for i, candidate := range r.intents {
		if candidate.FilterEquals(intent) {
			return i
		}
	}
	return -1
}

// TargetUserID is the target user of the primary resolve info.
func (r *ResolvedComponentInfo) TargetUserID() UserHandle {
	if info := r.ResolveInfoAt(0); info != nil {
		return info.TargetUserID
	}
	return UserCurrent
}

func (r *ResolvedComponentInfo) IsOtherProfile() bool {
	return r.TargetUserID() != UserCurrent
}
