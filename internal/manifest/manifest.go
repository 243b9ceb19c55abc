// Package manifest compiles the command table provided by scripts into an
// immutable Manifest and dispatches chat messages against it.
//
// A reload builds a new Manifest; callers swap their reference to it, so a
// dispatch never observes a half-built command set.
package manifest

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/keepmind9/shaken/internal/logger"
	"github.com/keepmind9/shaken/internal/pattern"
)

// CommandSpec is one command row as read from a manifest source
type CommandSpec struct {
	Module string
	// Index is the 1-based position of the row inside its module
	Index   int
	Command string
	// Args is the argument template; nil means the command takes no arguments
	Args     *string
	Help     string
	Elevated bool
	Handler  Handler
}

// Source is the raw material for Build. Problems carries faults the provider
// found while reading rows it had to skip.
type Source struct {
	Commands  []CommandSpec
	Listeners []Listener
	Problems  []string
}

// Mapping is one compiled command
type Mapping struct {
	Module  string
	Command string
	// Pattern is nil when the command takes no arguments
	Pattern  *pattern.Pattern
	Template string
	Help     string
	Elevated bool
	Handler  Handler
}

// Usage renders the command with its template, as shown to users
func (m Mapping) Usage() string {
	if m.Pattern == nil || m.Template == "" {
		return m.Command
	}
	return m.Command + " " + m.Template
}

func (m Mapping) usageError() string {
	return "invalid usage. syntax: " + m.Usage()
}

// Report summarises a Build
type Report struct {
	Commands  int
	Listeners int
	Problems  []string
}

func (r Report) OK() bool {
	return len(r.Problems) == 0
}

// Log writes the report the way reloads are reported
func (r Report) Log() {
	logger.WithFields(logrus.Fields{
		"commands":  r.Commands,
		"listeners": r.Listeners,
		"problems":  len(r.Problems),
	}).Info("manifest-loaded")

	if len(r.Problems) > 0 {
		logger.WithField("problems", strings.Join(r.Problems, "\n")).Warn("manifest-problems-found")
	}
}

// Manifest is an immutable, ordered set of commands and listeners
type Manifest struct {
	mappings  []Mapping
	listeners []Listener
	help      *HelpIndex
}

// Empty returns a manifest with no commands or listeners
func Empty() *Manifest {
	return &Manifest{help: NewHelpIndex(nil)}
}

// Build compiles src. Rows that cannot be compiled are skipped and reported;
// listeners are always kept, and the command set may end up empty.
func Build(src Source) (*Manifest, Report) {
	report := Report{Problems: append([]string(nil), src.Problems...)}

	m := &Manifest{
		listeners: make([]Listener, 0, len(src.Listeners)),
	}
	for _, l := range src.Listeners {
		if l != nil {
			m.listeners = append(m.listeners, l)
		}
	}

	if len(src.Commands) == 0 && len(src.Problems) == 0 {
		report.Problems = append(report.Problems, "empty commands table")
	}

	for _, spec := range src.Commands {
		mapping, problems := compile(spec)
		if len(problems) > 0 {
			report.Problems = append(report.Problems, problems...)
			continue
		}
		m.mappings = append(m.mappings, mapping)
	}

	m.help = NewHelpIndex(m.mappings)
	report.Commands = len(m.mappings)
	report.Listeners = len(m.listeners)
	return m, report
}

func compile(spec CommandSpec) (Mapping, []string) {
	var problems []string
	if spec.Command == "" {
		problems = append(problems, missing("command", spec))
	}
	if spec.Handler == nil {
		problems = append(problems, missing("handler", spec))
	}
	if len(problems) > 0 {
		return Mapping{}, problems
	}

	mapping := Mapping{
		Module:   spec.Module,
		Command:  spec.Command,
		Help:     spec.Help,
		Elevated: spec.Elevated,
		Handler:  spec.Handler,
	}

	if spec.Args != nil {
		p, err := pattern.Parse(*spec.Args)
		if err != nil {
			return Mapping{}, []string{fmt.Sprintf("invalid args for `%s` in `%s[%d]`: %v",
				spec.Command, spec.Module, spec.Index, err)}
		}
		mapping.Pattern = p
		mapping.Template = strings.TrimSpace(*spec.Args)
	}
	return mapping, nil
}

func missing(field string, spec CommandSpec) string {
	return fmt.Sprintf("missing `%s` for `%s[%d]`", field, spec.Module, spec.Index)
}

// Mappings returns the compiled commands in registration order
func (m *Manifest) Mappings() []Mapping {
	out := make([]Mapping, len(m.mappings))
	copy(out, m.mappings)
	return out
}

func (m *Manifest) Listeners() int {
	return len(m.listeners)
}

func (m *Manifest) Help() *HelpIndex {
	return m.help
}
