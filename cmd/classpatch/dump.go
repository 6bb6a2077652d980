package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skdltmxn/classpatch/bytecode"
	"github.com/skdltmxn/classpatch/classfile"
)

var (
	dumpFormat string
)

var dumpCmd = &cobra.Command{
	Use:   "dump <class-file>",
	Short: "Dump the constant pool and disassembled methods",
	Long: `Dump a class file in structured format.

Supported formats:
  - text: Human-readable text (default)
  - json: JSON format`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpFormat, "format", "f", "text", "output format (text, json)")
}

// ClassDump is the JSON form of a class file.
type ClassDump struct {
	File       string       `json:"file"`
	Name       string       `json:"name"`
	Super      string       `json:"super,omitempty"`
	Version    string       `json:"version"`
	Access     string       `json:"access"`
	Interfaces []string     `json:"interfaces,omitempty"`
	Pool       []string     `json:"pool"`
	Fields     []MemberDump `json:"fields"`
	Methods    []MethodDump `json:"methods"`
}

type MemberDump struct {
	Name       string `json:"name"`
	Descriptor string `json:"descriptor"`
	Access     string `json:"access"`
}

type MethodDump struct {
	MemberDump
	MaxStack  uint16   `json:"max_stack,omitempty"`
	MaxLocals uint16   `json:"max_locals,omitempty"`
	Code      []string `json:"code,omitempty"`
}

func runDump(cmd *cobra.Command, args []string) error {
	path := args[0]
	cf, err := classfile.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read class: %w", err)
	}

	switch dumpFormat {
	case "json":
		return dumpJSON(cf, path)
	case "text":
		return dumpText(cf)
	default:
		return fmt.Errorf("unknown format: %s", dumpFormat)
	}
}

func buildDump(cf *classfile.ClassFile, path string) *ClassDump {
	dump := &ClassDump{
		File:       path,
		Name:       cf.Name,
		Super:      cf.SuperName,
		Version:    cf.Version(),
		Access:     cf.AccessFlags.String(),
		Interfaces: cf.Interfaces,
		Pool:       poolEntries(cf.Pool),
		Fields:     make([]MemberDump, len(cf.Fields)),
		Methods:    make([]MethodDump, len(cf.Methods)),
	}
	for i, f := range cf.Fields {
		dump.Fields[i] = MemberDump{Name: f.Name, Descriptor: f.Descriptor, Access: f.AccessFlags.String()}
	}
	for i, m := range cf.Methods {
		md := MethodDump{MemberDump: MemberDump{Name: m.Name, Descriptor: m.Descriptor, Access: m.AccessFlags.String()}}
		if m.Code != nil {
			md.MaxStack = m.Code.MaxStack
			md.MaxLocals = m.Code.MaxLocals
			md.Code = disassemble(cf.Pool, m.Code)
		}
		dump.Methods[i] = md
	}
	return dump
}

func dumpJSON(cf *classfile.ClassFile, path string) error {
	enc := json.NewEncoder(output)
	enc.SetIndent("", "  ")
	return enc.Encode(buildDump(cf, path))
}

func dumpText(cf *classfile.ClassFile) error {
	fmt.Fprintf(output, "%s %s\n", headingStyle.Render("class"), cf.Name)
	fmt.Fprintf(output, "version %s, access %s, super %s\n", cf.Version(), cf.AccessFlags, orDash(cf.SuperName))

	fmt.Fprintln(output, headingStyle.Render("constant pool"))
	for _, e := range poolEntries(cf.Pool) {
		fmt.Fprintf(output, "  %s\n", e)
	}

	for _, f := range cf.Fields {
		fmt.Fprintf(output, "%s %s %s %s\n", headingStyle.Render("field"), f.AccessFlags, f.Name, f.Descriptor)
	}
	for _, m := range cf.Methods {
		fmt.Fprintf(output, "%s %s %s%s\n", headingStyle.Render("method"), m.AccessFlags, m.Name, m.Descriptor)
		if m.Code == nil {
			continue
		}
		fmt.Fprintln(output, mutedStyle.Render(fmt.Sprintf("  stack=%d locals=%d", m.Code.MaxStack, m.Code.MaxLocals)))
		for _, line := range disassemble(cf.Pool, m.Code) {
			fmt.Fprintf(output, "  %s\n", line)
		}
	}
	return nil
}

// poolEntries renders every live pool slot as "#index description".
func poolEntries(pool *classfile.ConstantPool) []string {
	var out []string
	for i := 1; i < pool.Count(); i++ {
		if _, err := pool.Get(uint16(i)); err != nil {
			continue // upper half of a long or double
		}
		out = append(out, fmt.Sprintf("#%d %s", i, pool.Describe(uint16(i))))
	}
	return out
}

// disassemble renders a method body one instruction per line. Label
// markers become "Ln:" lines numbered in order of appearance.
func disassemble(pool *classfile.ConstantPool, body *bytecode.Body) []string {
	labels := make(map[*bytecode.Label]string)
	for _, in := range body.Instructions {
		if in.IsMark() {
			labels[in.Mark] = fmt.Sprintf("L%d", len(labels))
		}
	}
	name := func(l *bytecode.Label) string {
		if s, ok := labels[l]; ok {
			return s
		}
		return "L?"
	}

	var out []string
	for _, in := range body.Instructions {
		switch {
		case in.IsMark():
			out = append(out, name(in.Mark)+":")
		case in.Op.ReferencesPool():
			out = append(out, fmt.Sprintf("  %s #%d // %s", in.Op, in.Index, pool.Describe(in.Index)))
		case in.Op.IsBranch():
			out = append(out, fmt.Sprintf("  %s %s", in.Op, name(in.Target)))
		case in.Op.IsSwitch():
			cases := make([]string, len(in.Targets))
			for i, t := range in.Targets {
				key := in.Low + int32(i)
				if in.Op == bytecode.OpLookupswitch {
					key = in.Keys[i]
				}
				cases[i] = fmt.Sprintf("%d: %s", key, name(t))
			}
			out = append(out, fmt.Sprintf("  %s { %s, default: %s }", in.Op, strings.Join(cases, ", "), name(in.Default)))
		default:
			out = append(out, "  "+in.String())
		}
	}
	for _, h := range body.Handlers {
		catch := "any"
		if h.CatchType != 0 {
			catch = pool.Describe(h.CatchType)
		}
		out = append(out, fmt.Sprintf("  try %s-%s -> %s %s", name(h.Start), name(h.End), name(h.Handler), catch))
	}
	return out
}
