package alarm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// SplitLine tokenizes a definition line on whitespace. A double-quoted run is
// part of a single token and keeps its quotes; backslash escapes inside quotes
// are kept verbatim. An unterminated quote is an error.
func SplitLine(line string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		inQuote bool
		escaped bool
		started bool
	)
	flush := func() {
		if started {
			tokens = append(tokens, cur.String())
		}
		cur.Reset()
		started = false
	}

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case inQuote && r == '\\':
			cur.WriteRune(r)
			escaped = true
		case r == '"':
			cur.WriteRune(r)
			started = true
			inQuote = !inQuote
		case !inQuote && unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("%w: unterminated quote", ErrMalformedDefinition)
	}
	flush()
	return tokens, nil
}

// ParseLiteral decodes one argument token: quoted text becomes a string,
// integers become int64, other numbers float64; anything else is kept as is.
func ParseLiteral(tok string) any {
	if len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"' {
		if s, err := strconv.Unquote(tok); err == nil {
			return s
		}
		return tok[1 : len(tok)-1]
	}
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return i
	}
	if looksNumeric(tok) {
		if f, err := strconv.ParseFloat(tok, 64); err == nil {
			return f
		}
	}
	return tok
}

// looksNumeric rejects words ParseFloat would accept, like "inf" or "NaN".
func looksNumeric(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// FormatLiteral is the inverse of ParseLiteral for the types it produces.
// Other values are written as quoted strings.
func FormatLiteral(v any) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEnN") {
			s += ".0"
		}
		return s
	case float32:
		return FormatLiteral(float64(x))
	case nil:
		return `""`
	default:
		return strconv.Quote(fmt.Sprint(x))
	}
}
