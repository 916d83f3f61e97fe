package task

import (
	"context"
	"regexp"
	"strings"
)

const (
	javaMinProcs = 256
	javaOOM      = "java.lang.OutOfMemoryError"
)

var javaMainClass = regexp.MustCompile(`(?ms)(^|\W)public\s+class\s+(\w+)[^{]*\{.*?(public\s+static|static\s+public)\s+void\s+main\s*\(\s*String`)

type javaVariant struct {
	baseVariant
	javacFlags []string
	javaFlags  []string
}

func newJavaVariant(javacExtraFlags, javaExtraFlags string) *javaVariant {
	return &javaVariant{
		javacFlags: splitFlags(javacExtraFlags),
		javaFlags:  splitFlags(javaExtraFlags),
	}
}

func (v *javaVariant) ID() string { return "java" }

// DefaultFileName names the file after the single public class with a main
// method.
func (v *javaVariant) DefaultFileName(source string) (string, bool) {
	matches := javaMainClass.FindAllStringSubmatch(source, -1)
	if len(matches) != 1 {
		return LegacyJavaFileName, false
	}
	return matches[0][2] + ".java", true
}

func (v *javaVariant) Defaults(p *Params) {
	p.NumProcs = javaMinProcs
	// -Xrs keeps the JVM from dumping diagnostics when runguard kills it.
	p.InterpreterArgs = append([]string{"-Xrs", "-Xss8m", "-Xmx200m"}, v.javaFlags...)
}

// Enforce leaves memory management to the JVM and guarantees it enough
// threads.
func (v *javaVariant) Enforce(p *Params) {
	p.MemoryLimit = 0
	if p.NumProcs < javaMinProcs {
		p.NumProcs = javaMinProcs
	}
}

func (v *javaVariant) Compile(ctx context.Context, t *Task) error {
	argv := []string{"/usr/bin/javac"}
	argv = append(argv, v.javacFlags...)
	argv = append(argv, t.Params.CompileArgs...)
	argv = append(argv, t.SourceFileName)
	_, stderr, err := t.runCompiler(ctx, argv)
	if err != nil {
		return err
	}
	t.CmpInfo += stderr
	if t.CmpInfo == "" {
		t.Executable = t.SourceFileName
	}
	return nil
}

func (v *javaVariant) RunCommand(t *Task) []string {
	argv := []string{"/usr/bin/java"}
	argv = append(argv, t.Params.InterpreterArgs...)
	argv = append(argv, v.mainClass(t))
	return append(argv, t.Params.RunArgs...)
}

func (v *javaVariant) mainClass(t *Task) string {
	if t.Params.MainClass != "" {
		return t.Params.MainClass
	}
	name := t.SourceFileName
	if i := strings.Index(name, "."); i >= 0 {
		name = name[:i]
	}
	return name
}

// FilterStderr widens tab-indented traceback lines.
func (v *javaVariant) FilterStderr(s string) string {
	return strings.ReplaceAll(s, "\n\t", "\n        ")
}

func (v *javaVariant) MemoryLimitExceeded(_, stderr string) bool {
	return strings.Contains(stderr, javaOOM)
}

func (v *javaVariant) VersionProbe() Probe {
	return Probe{
		Command: []string{"java", "-version"},
		Pattern: regexp.MustCompile(`version "?([0-9._]*)`),
	}
}
