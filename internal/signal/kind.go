package signal

import (
	"fmt"
	"strings"
)

// Base is the persisted kind code. It is stored as the record kind byte.
type Base uint8

const (
	BaseValueChanged Base = iota + 1
	BaseChildAdded
	BaseChildRemoved
	BaseMetadataChanged
	BaseCustom
)

// Kind identifies what happened to a node. Custom kinds carry a tag.
type Kind struct {
	Base Base
	Tag  string
}

var (
	ValueChanged    = Kind{Base: BaseValueChanged}
	ChildAdded      = Kind{Base: BaseChildAdded}
	ChildRemoved    = Kind{Base: BaseChildRemoved}
	MetadataChanged = Kind{Base: BaseMetadataChanged}
)

// Custom returns an application-defined kind.
func Custom(tag string) Kind {
	return Kind{Base: BaseCustom, Tag: tag}
}

// Valid reports whether k can be emitted: a known base, and a non-empty
// tag exactly when the base is custom.
func (k Kind) Valid() bool {
	switch k.Base {
	case BaseValueChanged, BaseChildAdded, BaseChildRemoved, BaseMetadataChanged:
		return k.Tag == ""
	case BaseCustom:
		return k.Tag != ""
	}
	return false
}

func (k Kind) String() string {
	switch k.Base {
	case BaseValueChanged:
		return "value_changed"
	case BaseChildAdded:
		return "child_added"
	case BaseChildRemoved:
		return "child_removed"
	case BaseMetadataChanged:
		return "metadata_changed"
	case BaseCustom:
		return "custom:" + k.Tag
	default:
		return fmt.Sprintf("kind(%d)", uint8(k.Base))
	}
}

// ParseKind parses the String form of a kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "value_changed":
		return ValueChanged, nil
	case "child_added":
		return ChildAdded, nil
	case "child_removed":
		return ChildRemoved, nil
	case "metadata_changed":
		return MetadataChanged, nil
	}
	if tag, ok := strings.CutPrefix(s, "custom:"); ok && tag != "" {
		return Custom(tag), nil
	}
	return Kind{}, fmt.Errorf("unknown signal kind %q", s)
}
