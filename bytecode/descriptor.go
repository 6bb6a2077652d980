package bytecode

import (
	"fmt"
	"strings"
)

// ParseMethodDescriptor splits a method descriptor such as
// "(ILjava/lang/String;[J)V" into its parameter and return types.
func ParseMethodDescriptor(desc string) ([]string, string, error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, "", fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	var params []string
	i := 1
	for i < len(desc) && desc[i] != ')' {
		end, err := fieldTypeEnd(desc, i)
		if err != nil {
			return nil, "", err
		}
		params = append(params, desc[i:end])
		i = end
	}
	if i >= len(desc) {
		return nil, "", fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	ret := desc[i+1:]
	if ret != "V" {
		end, err := fieldTypeEnd(ret, 0)
		if err != nil || end != len(ret) {
			return nil, "", fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
		}
	}
	return params, ret, nil
}

// ValidFieldDescriptor reports whether desc is a single field type.
func ValidFieldDescriptor(desc string) bool {
	end, err := fieldTypeEnd(desc, 0)
	return err == nil && end == len(desc)
}

func fieldTypeEnd(desc string, i int) (int, error) {
	start := i
	for i < len(desc) && desc[i] == '[' {
		i++
	}
	if i >= len(desc) {
		return 0, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	switch desc[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		semi := strings.IndexByte(desc[i:], ';')
		if semi <= 1 {
			return 0, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
		}
		return i + semi + 1, nil
	}
	return 0, fmt.Errorf("%w: %q at %d", ErrBadDescriptor, desc, start)
}

// SlotSize returns the number of local variable slots (and stack words) a
// value of the given field type occupies. The void type occupies none.
func SlotSize(desc string) int {
	switch desc {
	case "J", "D":
		return 2
	case "V", "":
		return 0
	}
	return 1
}

// ArgSlots returns the number of local slots taken by the parameters of a
// method, plus one for the receiver of instance methods.
func ArgSlots(params []string, static bool) int {
	n := 0
	if !static {
		n = 1
	}
	for _, p := range params {
		n += SlotSize(p)
	}
	return n
}

// ClassDescriptor returns the field descriptor for a class name as used in a
// CONSTANT_Class entry, which is either an internal name or an array
// descriptor.
func ClassDescriptor(name string) string {
	if strings.HasPrefix(name, "[") {
		return name
	}
	return "L" + name + ";"
}

// BinaryName converts an internal name to the dotted form used by
// Class.forName.
func BinaryName(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}
