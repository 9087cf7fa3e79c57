package types

import (
	"net/url"
	"slices"
	"strings"
)

const (
	ActionSend         = "android.intent.action.SEND"
	ActionSendMultiple = "android.intent.action.SEND_MULTIPLE"
	ActionView         = "android.intent.action.VIEW"
	ActionChooser      = "android.intent.action.CHOOSER"

	CategoryDefault = "android.intent.category.DEFAULT"
	CategoryBrowser = "android.intent.category.BROWSABLE"

	ExtraText               = "android.intent.extra.TEXT"
	ExtraContentAnnotations = "android.intent.extra.CONTENT_ANNOTATIONS"
	ExtraExcludeComponents  = "android.intent.extra.EXCLUDE_COMPONENTS"
)

// Intent is the request being resolved. Label and Icon are only set for
// caller-supplied labeled intents and override the resolved presentation.
type Intent struct {
	Action     string         `json:"action,omitempty" yaml:"action,omitempty"`
	Type       string         `json:"type,omitempty" yaml:"type,omitempty"`
	Data       string         `json:"data,omitempty" yaml:"data,omitempty"`
	Categories []string       `json:"categories,omitempty" yaml:"categories,omitempty"`
	Component  ComponentName  `json:"component,omitempty" yaml:"component,omitempty"`
	Package    string         `json:"package,omitempty" yaml:"package,omitempty"`
	Extras     map[string]any `json:"extras,omitempty" yaml:"extras,omitempty"`
	Label      string         `json:"label,omitempty" yaml:"label,omitempty"`
	Icon       string         `json:"icon,omitempty" yaml:"icon,omitempty"`
}

func (i *Intent) Clone() *Intent {
	if i == nil {
		return nil
	}
	out := *i
	out.Categories = slices.Clone(i.Categories)
	if i.Extras != nil {
		out.Extras = make(map[string]any, len(i.Extras))
		for k, v := range i.Extras {
			out.Extras[k] = v
		}
	}
	return &out
}

func (i *Intent) dataURL() *url.URL {
	if i == nil || strings.TrimSpace(i.Data) == "" {
		return nil
	}
	u, err := url.Parse(strings.TrimSpace(i.Data))
	if err != nil {
		return nil
	}
	return u
}

func (i *Intent) Scheme() string {
	if u := i.dataURL(); u != nil {
		return strings.ToLower(u.Scheme)
	}
	return ""
}

func (i *Intent) Host() string {
	if u := i.dataURL(); u != nil {
		return strings.ToLower(u.Hostname())
	}
	return ""
}

func (i *Intent) Path() string {
	if u := i.dataURL(); u != nil {
		return u.EscapedPath()
	}
	return ""
}

func (i *Intent) IsHTTP() bool {
	switch i.Scheme() {
	case "http", "https":
		return true
	}
	return false
}

func (i *Intent) IsSendAction() bool {
	if i == nil {
		return false
	}
	return i.Action == ActionSend || i.Action == ActionSendMultiple
}

func (i *Intent) HasCategory(category string) bool {
	if i == nil {
		return false
	}
	return slices.Contains(i.Categories, category)
}

// FilterEquals reports whether both intents would match the same filters:
// action, data, type, package, component and categories.
func (i *Intent) FilterEquals(other *Intent) bool {
	if i == nil || other == nil {
		return i == other
	}
	if i.Action != other.Action || i.Data != other.Data || i.Type != other.Type {
		return false
	}
	if i.Package != other.Package || i.Component != other.Component {
		return false
	}
	a := slices.Clone(i.Categories)
	b := slices.Clone(other.Categories)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// Signature is the key under which the last chosen activity is remembered.
func (i *Intent) Signature() string {
	if i == nil {
		return ""
	}
	cats := slices.Clone(i.Categories)
	slices.Sort(cats)
	parts := []string{i.Action, i.Type, i.Scheme(), strings.Join(cats, ",")}
	return strings.Join(parts, "|")
}

// StringSliceExtra returns the extra as a list of strings. Values that are
// not strings are dropped, and ok is false when the extra is not a list.
func (i *Intent) StringSliceExtra(key string) (values []string, ok bool) {
	if i == nil || i.Extras == nil {
		return nil, false
	}
	raw, present := i.Extras[key]
	if !present {
		return nil, false
	}
	switch v := raw.(type) {
	case []string:
		return slices.Clone(v), true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, isString := item.(string); isString {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// QueryFlags tune an intent resolution query.
type QueryFlags uint32

const (
	// MatchDefaultOnly only returns activities whose filter declares
	// CategoryDefault.
	MatchDefaultOnly QueryFlags = 1 << iota
	// GetResolvedFilter asks for match details to be kept on the result.
	GetResolvedFilter
	// GetMetaData asks for activity metadata such as labels and icons.
	GetMetaData
)

func (f QueryFlags) Has(flag QueryFlags) bool {
	return f&flag != 0
}
