package types

import (
	"errors"
	"strconv"
	"strings"
)

// ComponentName identifies one activity by package and class.
type ComponentName struct {
	Package string `json:"package" yaml:"package"`
	Class   string `json:"class" yaml:"class"`
}

func NewComponentName(pkg, class string) ComponentName {
	pkg = strings.TrimSpace(pkg)
	class = strings.TrimSpace(class)
	if strings.HasPrefix(class, ".") && pkg != "" {
		class = pkg + class
	}
	return ComponentName{Package: pkg, Class: class}
}

func (c ComponentName) IsZero() bool {
	return c.Package == "" && c.Class == ""
}

// FlattenToString renders the component as "package/class". It is the key
// used for pins and ranking state.
func (c ComponentName) FlattenToString() string {
	if c.IsZero() {
		return ""
	}
	return c.Package + "/" + c.Class
}

func (c ComponentName) String() string {
	return c.FlattenToString()
}

// UnflattenComponentName parses the output of FlattenToString. A class
// starting with "." is relative to the package.
func UnflattenComponentName(raw string) (ComponentName, error) {
	raw = strings.TrimSpace(raw)
	sep := strings.IndexByte(raw, '/')
	if sep <= 0 || sep == len(raw)-1 {
		return ComponentName{}, errors.New("invalid component name: " + raw)
	}
	return NewComponentName(raw[:sep], raw[sep+1:]), nil
}

// UserHandle is an Android user (profile) id.
type UserHandle int

const (
	UserAll     UserHandle = -1
	UserCurrent UserHandle = -2
	UserNull    UserHandle = -10000
)

func (u UserHandle) String() string {
	switch u {
	case UserAll:
		return "all"
	case UserCurrent:
		return "current"
	case UserNull:
		return "null"
	}
	return strconv.Itoa(int(u))
}
