package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skdltmxn/classpatch/bytecode"
	"github.com/skdltmxn/classpatch/classfile"
	"github.com/skdltmxn/classpatch/hierarchy"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <class-file>",
	Short: "Display class file information",
	Long: `Display the header, members and resolved ancestors of a class file.

Ancestors are read from the directory tree the class file lives in, the
same way an instrumentation run resolves them.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	cf, err := classfile.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read class: %w", err)
	}
	chain, err := ancestors(path, cf)
	if err != nil {
		return err
	}

	fmt.Fprintln(output, headingStyle.Render(bytecode.BinaryName(cf.Name)))
	field(output, "version", cf.Version())
	field(output, "access", cf.AccessFlags)
	field(output, "super", orDash(cf.SuperName))
	field(output, "interfaces", orDash(strings.Join(cf.Interfaces, ", ")))
	field(output, "ancestors", orDash(strings.Join(chain.Names(), " -> ")))
	field(output, "constants", cf.Pool.Count()-1)

	if len(cf.Fields) > 0 {
		fmt.Fprintln(output, headingStyle.Render("fields"))
		for _, f := range cf.Fields {
			fmt.Fprintf(output, "  %s %s %s\n", mutedStyle.Render(f.AccessFlags.String()), f.Name, f.Descriptor)
		}
	}
	if len(cf.Methods) > 0 {
		fmt.Fprintln(output, headingStyle.Render("methods"))
		for _, m := range cf.Methods {
			code := "no code"
			if m.Code != nil {
				code = fmt.Sprintf("%d instructions, %d handlers", countInstructions(m.Code), len(m.Code.Handlers))
			}
			fmt.Fprintf(output, "  %s %s%s %s\n", mutedStyle.Render(m.AccessFlags.String()), m.Name, m.Descriptor, mutedStyle.Render("("+code+")"))
		}
	}
	if len(cf.Attributes) > 0 {
		names := make([]string, len(cf.Attributes))
		for i, a := range cf.Attributes {
			names[i] = a.Name
		}
		field(output, "attributes", strings.Join(names, ", "))
	}
	if len(cf.DroppedAttributes) > 0 {
		field(output, "dropped", strings.Join(cf.DroppedAttributes, ", "))
	}
	return nil
}

// ancestors resolves the chain of a class read from path. A class file that
// is not laid out by name has no resolvable ancestors.
func ancestors(path string, cf *classfile.ClassFile) (hierarchy.Chain, error) {
	baseDir, err := hierarchy.BaseDir(path, cf.Name)
	if err != nil {
		return nil, nil
	}
	chain, err := hierarchy.Resolve(cf, baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ancestors: %w", err)
	}
	return chain, nil
}

func countInstructions(body *bytecode.Body) int {
	n := 0
	for i := range body.Instructions {
		if !body.Instructions[i].IsMark() {
			n++
		}
	}
	return n
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
