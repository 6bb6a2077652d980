package instrument

import (
	"fmt"
	"strings"
)

// ContractVersion identifies the set of runtime entry points emitted code
// calls. It changes whenever a name or descriptor below changes.
const ContractVersion = 1

// DefaultRuntimeClass is the internal name of the runtime support class.
const DefaultRuntimeClass = "dev/classpatch/runtime/Support"

// EntryPoint is a static method of the runtime support class.
type EntryPoint struct {
	Name       string
	Descriptor string
}

// Runtime entry points besides trace.
var (
	IsOverridden        = EntryPoint{"isOverridden", "(Ljava/lang/String;Ljava/lang/String;)Z"}
	Dispatch            = EntryPoint{"dispatch", "(Ljava/lang/String;Ljava/lang/String;Ljava/lang/Object;[Ljava/lang/Object;)Ljava/lang/Object;"}
	DispatchConstructor = EntryPoint{"dispatchConstructor", "(Ljava/lang/Object;Ljava/lang/String;Ljava/lang/String;[Ljava/lang/Object;)Z"}
	GetField            = EntryPoint{"getField", "(Ljava/lang/Object;Ljava/lang/Class;Ljava/lang/String;)Ljava/lang/Object;"}
	SetField            = EntryPoint{"setField", "(Ljava/lang/Object;Ljava/lang/Object;Ljava/lang/Class;Ljava/lang/String;)V"}
	GetStaticField      = EntryPoint{"getStaticField", "(Ljava/lang/Class;Ljava/lang/String;)Ljava/lang/Object;"}
	SetStaticField      = EntryPoint{"setStaticField", "(Ljava/lang/Object;Ljava/lang/Class;Ljava/lang/String;)V"}
)

// TraceEntry returns the trace entry point taking n strings.
func TraceEntry(n int) EntryPoint {
	return EntryPoint{
		Name:       "trace",
		Descriptor: "(" + strings.Repeat("Ljava/lang/String;", n) + ")V",
	}
}

// Runtime names the class that provides the entry points.
type Runtime struct {
	Class string
}

// DefaultRuntime returns the runtime bound to DefaultRuntimeClass.
func DefaultRuntime() Runtime {
	return Runtime{Class: DefaultRuntimeClass}
}

// Validate checks that Class is an internal class name.
func (r Runtime) Validate() error {
	if r.Class == "" {
		return fmt.Errorf("instrument: runtime class is empty")
	}
	if strings.ContainsAny(r.Class, ".;[") || strings.HasPrefix(r.Class, "/") || strings.HasSuffix(r.Class, "/") {
		return fmt.Errorf("instrument: runtime class %q is not an internal name", r.Class)
	}
	return nil
}
