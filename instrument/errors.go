package instrument

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrUnknownKind indicates a pass name that ParseKind does not know.
	ErrUnknownKind = errors.New("instrument: unknown pass")

	// ErrNoDelegation indicates a constructor without a super(...) or
	// this(...) call.
	ErrNoDelegation = errors.New("instrument: constructor does not delegate")
)

// MissingMemberError reports a member an instrumentation pass needed but
// could not find in the class or its resolved ancestors.
type MissingMemberError struct {
	Class      string // Class being instrumented
	Owner      string // Class the reference names
	Name       string
	Descriptor string
}

func (e *MissingMemberError) Error() string {
	return fmt.Sprintf("instrument: %s references %s.%s:%s, which is not declared in the resolved hierarchy",
		e.Class, e.Owner, e.Name, e.Descriptor)
}
