package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skdltmxn/classpatch/classfile"
	"github.com/skdltmxn/classpatch/hierarchy"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <class-file> <member> [descriptor]",
	Short: "Find a field or method in a class and its ancestors",
	Long: `Find a member the way an instrumentation pass does: the class itself
first, then each resolved ancestor from nearest to farthest.

With a descriptor the member is a method:
  lookup a/B.class get ()I
Without one it is a field, or failing that every method of that name:
  lookup a/B.class count`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runLookup,
}

func runLookup(cmd *cobra.Command, args []string) error {
	path, member := args[0], args[1]
	cf, err := classfile.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read class: %w", err)
	}
	chain, err := ancestors(path, cf)
	if err != nil {
		return err
	}
	lookup := hierarchy.NewLookup(cf, chain)

	if len(args) == 3 {
		m, owner, ok := lookup.FindMethod(member, args[2])
		if !ok {
			return fmt.Errorf("method %s%s not found in %s or its %d resolved ancestors", member, args[2], cf.Name, len(chain))
		}
		printMember(owner, "method", m.AccessFlags, m.Name+m.Descriptor)
		return nil
	}

	if f, owner, ok := lookup.FindField(member); ok {
		printMember(owner, "field", f.AccessFlags, f.Name+" "+f.Descriptor)
		return nil
	}
	found := 0
	for _, c := range append(hierarchy.Chain{cf}, chain...) {
		for _, m := range c.Methods {
			if m.Name == member {
				printMember(c, "method", m.AccessFlags, m.Name+m.Descriptor)
				found++
			}
		}
	}
	if found == 0 {
		return fmt.Errorf("no member named %s in %s or its %d resolved ancestors", member, cf.Name, len(chain))
	}
	return nil
}

func printMember(owner *classfile.ClassFile, kind string, flags classfile.AccessFlags, sig string) {
	fmt.Fprintf(output, "%s %s %s %s\n", headingStyle.Render(owner.Name), mutedStyle.Render(kind), flags, sig)
}
