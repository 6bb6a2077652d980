package bytecode

import "strings"

// ValueKind is the verification type category of a local or stack value.
type ValueKind uint8

const (
	ValueTop ValueKind = iota
	ValueInteger
	ValueFloat
	ValueLong
	ValueDouble
	ValueNull
	ValueUninitializedThis
	ValueUninitialized
	ValueObject
	ValueReturnAddress
)

// ObjectClass is the root of every class hierarchy.
const ObjectClass = "java/lang/Object"

// Value is a verification type. Class holds the CONSTANT_Class form of the
// type (internal name or array descriptor) for objects and the class being
// instantiated for uninitialized values. New is the index of the creating
// new instruction for uninitialized values.
type Value struct {
	Kind  ValueKind
	Class string
	New   int
}

var (
	topValue    = Value{Kind: ValueTop}
	intValue    = Value{Kind: ValueInteger}
	floatValue  = Value{Kind: ValueFloat}
	longValue   = Value{Kind: ValueLong}
	doubleValue = Value{Kind: ValueDouble}
	nullValue   = Value{Kind: ValueNull}
)

// Object returns the verification type of an instance of class.
func Object(class string) Value {
	return Value{Kind: ValueObject, Class: class}
}

// Size returns the number of stack words or local slots the value takes.
func (v Value) Size() int {
	if v.Kind == ValueLong || v.Kind == ValueDouble {
		return 2
	}
	return 1
}

// IsReference reports whether the value is an initialized reference or null.
func (v Value) IsReference() bool {
	return v.Kind == ValueObject || v.Kind == ValueNull
}

func (v Value) String() string {
	switch v.Kind {
	case ValueInteger:
		return "int"
	case ValueFloat:
		return "float"
	case ValueLong:
		return "long"
	case ValueDouble:
		return "double"
	case ValueNull:
		return "null"
	case ValueUninitializedThis:
		return "uninitializedThis"
	case ValueUninitialized:
		return "uninitialized(" + v.Class + ")"
	case ValueObject:
		return v.Class
	case ValueReturnAddress:
		return "returnAddress"
	}
	return "top"
}

// ValueOf returns the verification type of a field descriptor.
func ValueOf(desc string) Value {
	if desc == "" {
		return topValue
	}
	switch desc[0] {
	case 'Z', 'B', 'C', 'S', 'I':
		return intValue
	case 'F':
		return floatValue
	case 'J':
		return longValue
	case 'D':
		return doubleValue
	case 'L':
		return Object(strings.TrimSuffix(desc[1:], ";"))
	case '[':
		return Object(desc)
	}
	return topValue
}

// elementValue returns the type loaded by aaload from an array of the given
// class form.
func elementValue(array Value) Value {
	if array.Kind == ValueNull {
		return nullValue
	}
	if array.Kind == ValueObject && strings.HasPrefix(array.Class, "[") {
		return ValueOf(array.Class[1:])
	}
	return Object(ObjectClass)
}

func primitiveArray(atype int32) string {
	switch uint8(atype) {
	case ArrayBoolean:
		return "[Z"
	case ArrayChar:
		return "[C"
	case ArrayFloat:
		return "[F"
	case ArrayDouble:
		return "[D"
	case ArrayByte:
		return "[B"
	case ArrayShort:
		return "[S"
	case ArrayLong:
		return "[J"
	}
	return "[I"
}
