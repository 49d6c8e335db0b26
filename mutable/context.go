package mutable

import (
	"fmt"

	"github.com/nwca/fleece"
)

// NewRoot builds a mutable root overlay over base. base must be an array or
// dict, or the zero Value, in which case an empty mutable dict is returned.
func NewRoot(base fleece.Value) (any, error) {
	if !base.IsValid() {
		return NewDict(), nil
	}
	switch base.Kind() {
	case fleece.KindArray:
		return NewArrayFrom(base), nil
	case fleece.KindDict:
		return NewDictFrom(base), nil
	default:
		return nil, fmt.Errorf("mutable: root value must be an array or dict, got %v", base.Kind())
	}
}
