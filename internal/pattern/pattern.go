// Package pattern implements the argument-template grammar used by chat commands.
//
// A template is a whitespace separated list of tokens:
//
//	literal     must appear verbatim
//	<name>      binds exactly one token
//	<name?>     binds one token if any input remains
//	<name...>   binds every following token up to the next literal
//
// Templates made only of literals compile to an exact-equality matcher.
//
// Example:
//
//	p, err := pattern.Parse("<user> <amount>")
//	if err != nil {
//	    return err
//	}
//	ex := p.Extract("alice 5")
//	ex.Bindings["user"].String() // "alice"
package pattern

import (
	"strings"
)

// Kind identifies a compiled Part
type Kind int

const (
	KindExact Kind = iota
	KindArgument
	KindOptional
	KindVariadic
)

func (k Kind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindArgument:
		return "argument"
	case KindOptional:
		return "optional"
	case KindVariadic:
		return "variadic"
	default:
		return "unknown"
	}
}

// Part is one compiled token of a template. For KindExact, Name holds the
// literal text (possibly several words joined by single spaces).
type Part struct {
	Kind Kind
	Name string
}

// Pattern is a compiled template. It is immutable after Parse.
type Pattern struct {
	exact string
	parts []Part
	// literal is true when the template had no bindings at all
	literal bool
}

// Parse compiles a template
func Parse(template string) (*Pattern, error) {
	parts := lex(template)

	if len(parts) == 1 && parts[0].Kind == KindExact {
		return &Pattern{exact: parts[0].Name, literal: true}, nil
	}

	if err := validate(parts); err != nil {
		return nil, err
	}
	return &Pattern{parts: parts}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(template string) *Pattern {
	p, err := Parse(template)
	if err != nil {
		panic(err)
	}
	return p
}

// IsExact reports whether the pattern is an exact-equality literal
func (p *Pattern) IsExact() bool {
	return p.literal
}

// Parts returns a copy of the compiled parts. An exact pattern returns a
// single KindExact part.
func (p *Pattern) Parts() []Part {
	if p.literal {
		return []Part{{Kind: KindExact, Name: p.exact}}
	}
	out := make([]Part, len(p.parts))
	copy(out, p.parts)
	return out
}

// IsOptional is true only for a binding pattern whose sole part is a literal
// or a variadic. The dispatcher rejects a bare command for such patterns.
func (p *Pattern) IsOptional() bool {
	if p.literal || len(p.parts) != 1 {
		return false
	}
	k := p.parts[0].Kind
	return k == KindExact || k == KindVariadic
}

// String renders the compiled pattern back into template form
func (p *Pattern) String() string {
	if p.literal {
		return p.exact
	}
	out := make([]string, 0, len(p.parts))
	for _, part := range p.parts {
		switch part.Kind {
		case KindExact:
			out = append(out, part.Name)
		case KindArgument:
			out = append(out, "<"+part.Name+">")
		case KindOptional:
			out = append(out, "<"+part.Name+"?>")
		case KindVariadic:
			out = append(out, "<"+part.Name+"...>")
		}
	}
	return strings.Join(out, " ")
}

// validate enforces unique binding names and rejects binding sequences whose
// token boundary cannot be decided.
func validate(parts []Part) error {
	seen := make(map[string]struct{}, len(parts))
	state := KindExact
	prev := ""

	for _, part := range parts {
		if part.Kind == KindExact {
			state = KindExact
			continue
		}

		if _, dup := seen[part.Name]; dup {
			return &Error{Err: ErrDuplicateName, Name: part.Name}
		}
		seen[part.Name] = struct{}{}

		switch part.Kind {
		case KindArgument:
			switch state {
			case KindOptional:
				return &Error{Err: ErrAmbiguousOptional, Name: prev, Other: part.Name}
			case KindVariadic:
				return &Error{Err: ErrAmbiguousVariadic, Name: prev, Other: part.Name}
			}
		case KindOptional:
			if state != KindExact {
				return &Error{Err: ErrAmbiguousOptional, Name: prev, Other: part.Name}
			}
		case KindVariadic:
			if state != KindExact && state != KindArgument {
				return &Error{Err: ErrAmbiguousVariadic, Name: prev, Other: part.Name}
			}
		}

		state = part.Kind
		prev = part.Name
	}
	return nil
}
