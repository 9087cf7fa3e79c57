package types

import "time"

// UsageStats is what ranking knows about one package for one user.
type UsageStats struct {
	Package               string                    `json:"package" yaml:"package"`
	LastTimeUsed          time.Time                 `json:"last_time_used" yaml:"last_time_used"`
	TotalTimeInForeground time.Duration             `json:"total_time_in_foreground" yaml:"total_time_in_foreground"`
	LaunchCount           int                       `json:"launch_count" yaml:"launch_count"`
	ChooserCounts         map[string]map[string]int `json:"chooser_counts,omitempty" yaml:"chooser_counts,omitempty"`
}

func (u *UsageStats) ChooserCount(action, key string) int {
	if u == nil || u.ChooserCounts == nil {
		return 0
	}
	byKey, ok := u.ChooserCounts[action]
	if !ok {
		return 0
	}
	return byKey[key]
}

func (u *UsageStats) Clone() *UsageStats {
	if u == nil {
		return nil
	}
	out := *u
	if u.ChooserCounts != nil {
		out.ChooserCounts = make(map[string]map[string]int, len(u.ChooserCounts))
		for action, byKey := range u.ChooserCounts {
			copied := make(map[string]int, len(byKey))
			for k, v := range byKey {
				copied[k] = v
			}
			out.ChooserCounts[action] = copied
		}
	}
	return &out
}

// ChooserSelection records one pick in the chooser.
type ChooserSelection struct {
	Package     string
	User        UserHandle
	Action      string
	ContentType string
	Annotations []string
	At          time.Time
}
