package pattern

import (
	"strings"
	"unicode"
)

// lex splits a template into parts, merging adjacent literals into one run.
func lex(input string) []Part {
	var out []Part

	push := func(part Part, ok bool) {
		if !ok {
			return
		}
		if n := len(out); n > 0 && part.Kind == KindExact && out[n-1].Kind == KindExact {
			out[n-1].Name += " " + part.Name
			return
		}
		out = append(out, part)
	}

	for {
		head, rest, ok := unfold(input)
		if !ok {
			push(classify(input))
			return out
		}
		push(classify(head))
		input = rest
	}
}

// unfold takes the next token off input. A bracketed token with whitespace
// inside the brackets extends to the next whitespace after the closing '>'.
// It reports false when input holds the final token.
func unfold(input string) (head, rest string, ok bool) {
	if strings.HasPrefix(input, "<") {
		if end := strings.IndexByte(input, '>'); end >= 0 {
			next := end + 1
			if strings.IndexFunc(input[:next], unicode.IsSpace) >= 0 {
				tail := strings.IndexFunc(input[next:], unicode.IsSpace)
				if tail < 0 {
					return "", "", false
				}
				tail += next
				return input[:tail], input[tail:], true
			}
		}
	}

	head, rest, ok = strings.Cut(input, " ")
	return head, rest, ok
}

func classify(head string) (Part, bool) {
	surround := func(suffix string) bool {
		return strings.HasPrefix(head, "<") && strings.HasSuffix(head, suffix)
	}

	var (
		kind Kind
		tail int
	)
	switch {
	case strings.TrimSpace(head) == "":
		return Part{}, false
	case surround("...>"):
		kind, tail = KindVariadic, 4
	case surround("?>"):
		kind, tail = KindOptional, 2
	case surround(">"):
		kind, tail = KindArgument, 1
	default:
		return Part{Kind: KindExact, Name: head}, true
	}

	if strings.IndexFunc(head, unicode.IsSpace) >= 0 {
		return Part{Kind: KindExact, Name: head}, true
	}

	name := head[1 : len(head)-tail]
	if name == "" {
		return Part{}, false
	}
	return Part{Kind: kind, Name: name}, true
}
