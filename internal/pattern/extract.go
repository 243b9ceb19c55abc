package pattern

import (
	"strings"
)

// Outcome is the result kind of Extract
type Outcome int

const (
	NoMatch Outcome = iota
	Match
	Bound
)

func (o Outcome) String() string {
	switch o {
	case NoMatch:
		return "no-match"
	case Match:
		return "match"
	case Bound:
		return "bound"
	default:
		return "unknown"
	}
}

// Value is a bound argument: a single token, or a list for variadics
type Value struct {
	single string
	list   []string
	isList bool
}

// StringValue creates a single-token value
func StringValue(s string) Value {
	return Value{single: s}
}

// ListValue creates a variadic value
func ListValue(items []string) Value {
	return Value{list: items, isList: true}
}

// IsList reports whether the value came from a variadic part
func (v Value) IsList() bool {
	return v.isList
}

// String returns the single token, or the list joined by spaces
func (v Value) String() string {
	if v.isList {
		return strings.Join(v.list, " ")
	}
	return v.single
}

// List returns the tokens of a variadic value, or a one-element slice
func (v Value) List() []string {
	if v.isList {
		return v.list
	}
	return []string{v.single}
}

// Bindings maps binding names to their captured values
type Bindings map[string]Value

// Extract is the result of matching input against a Pattern
type Extract struct {
	Outcome  Outcome
	Bindings Bindings
}

// Extract matches input against the pattern.
//
// An exact pattern matches only identical input. Otherwise parts are walked
// in order and input that remains after the last part is ignored.
func (p *Pattern) Extract(input string) Extract {
	if p.literal {
		if input == p.exact {
			return Extract{Outcome: Match}
		}
		return Extract{Outcome: NoMatch}
	}

	data := input
	bindings := make(Bindings, len(p.parts))

	for i, part := range p.parts {
		switch part.Kind {
		case KindExact:
			if !strings.HasPrefix(data, part.Name) {
				return Extract{Outcome: NoMatch}
			}
			data = strings.TrimSpace(data[len(part.Name):])

		case KindArgument:
			if data == "" {
				return Extract{Outcome: NoMatch}
			}
			value := nextToken(data)
			bindings[part.Name] = StringValue(value)
			data = strings.TrimSpace(data[len(value):])

		case KindOptional:
			if data == "" {
				continue
			}
			value := nextToken(data)
			bindings[part.Name] = StringValue(value)
			data = strings.TrimSpace(data[len(value):])

		case KindVariadic:
			// the next part's name is the stop token, even when it is a binding
			var stop string
			hasStop := i+1 < len(p.parts)
			if hasStop {
				stop = p.parts[i+1].Name
			}

			out := []string{}
			for _, token := range strings.Split(data, " ") {
				if token == "" {
					continue
				}
				if hasStop && token == stop {
					break
				}
				out = append(out, token)
			}

			offset := len(out)
			for _, token := range out {
				offset += len(token)
			}
			offset = min(offset, len(data))
			data = strings.TrimSpace(data[offset:])
			bindings[part.Name] = ListValue(out)
		}
	}

	return Extract{Outcome: Bound, Bindings: bindings}
}

func nextToken(data string) string {
	if i := strings.IndexByte(data, ' '); i >= 0 {
		return data[:i]
	}
	return data
}
