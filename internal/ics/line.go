package ics

import "strings"

// Param is a single property parameter such as TZID=America/Chicago.
type Param struct {
	Name  string
	Value string
}

// Params is the ordered parameter list of a property line.
type Params []Param

// Get returns the value of the named parameter (case-insensitive).
// When a parameter repeats, the last occurrence wins.
func (ps Params) Get(name string) (string, bool) {
	for i := len(ps) - 1; i >= 0; i-- {
		if strings.EqualFold(ps[i].Name, name) {
			return ps[i].Value, true
		}
	}
	return "", false
}

// PropertyLine is one unfolded content line split into its parts.
type PropertyLine struct {
	Name   string // upper-cased
	Params Params
	Value  string // raw, still escaped
}

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

var continuations = strings.NewReplacer("\n ", "", "\n\t", "")

// Unfold joins folded continuation lines. Line endings are normalized to
// LF first, then every LF followed by a single space or tab is removed.
func Unfold(raw string) string {
	return continuations.Replace(lineBreaks.Replace(raw))
}

// SplitPropertyLine splits "NAME;P1=v1;P2=v2:value" at the first colon that
// is not inside a double-quoted parameter value. A line without a colon is
// returned as a bare name with an empty value. Parameter tokens without '='
// are skipped.
func SplitPropertyLine(line string) PropertyLine {
	head, value, found := cutUnquoted(line, ':')
	if !found {
		return PropertyLine{Name: strings.ToUpper(strings.TrimSpace(line))}
	}

	tokens := splitUnquoted(head, ';')
	pl := PropertyLine{
		Name:  strings.ToUpper(strings.TrimSpace(tokens[0])),
		Value: value,
	}
	for _, tok := range tokens[1:] {
		name, val, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		pl.Params = append(pl.Params, Param{Name: name, Value: unquote(val)})
	}
	return pl
}

var textEscapes = strings.NewReplacer(
	`\\`, `\`,
	`\n`, "\n",
	`\N`, "\n",
	`\,`, ",",
	`\;`, ";",
)

// UnescapeText reverses TEXT value escaping. Replacement happens in a single
// left-to-right pass, so a backslash produced by "\\" never starts a new
// escape sequence.
func UnescapeText(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}
	return textEscapes.Replace(value)
}

func cutUnquoted(s string, sep byte) (before, after string, found bool) {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case sep:
			if !inQuote {
				return s[:i], s[i+1:], true
			}
		}
	}
	return s, "", false
}

func splitUnquoted(s string, sep byte) []string {
	var out []string
	for {
		before, after, found := cutUnquoted(s, sep)
		out = append(out, before)
		if !found {
			return out
		}
		s = after
	}
}

func unquote(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}
