// Package sqlconsole implements the admin ad-hoc SQL endpoint: guarded
// execution, per-user history, and registry reconciliation of CREATE/DROP
// statements.
package sqlconsole

import "strings"

// SplitStatements breaks a script on unquoted semicolons. It tracks
// single-quoted strings, double-quoted identifiers, and dollar-quoted strings
// ($$...$$ and $tag$...$tag$), honoring doubled-quote escapes. Regex cannot
// do this; the splitter is an explicit state machine over the rune stream.
func SplitStatements(script string) []string {
	var (
		stmts      []string
		cur        strings.Builder
		inSingle   bool
		inDouble   bool
		dollar     string
		dollarBody int
	)
	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if dollar != "" {
			cur.WriteRune(c)
			// A closer may not overlap the opening tag: its start must sit
			// at or past the first rune of the quoted body.
			if c == '$' {
				start := i - len([]rune(dollar)) + 1
				if start >= dollarBody && hasTagAt(runes, start, dollar) {
					dollar = ""
				}
			}
			continue
		}
		if inSingle {
			cur.WriteRune(c)
			if c == '\'' {
				if i+1 < len(runes) && runes[i+1] == '\'' {
					cur.WriteRune(runes[i+1])
					i++
				} else {
					inSingle = false
				}
			}
			continue
		}
		if inDouble {
			cur.WriteRune(c)
			if c == '"' {
				if i+1 < len(runes) && runes[i+1] == '"' {
					cur.WriteRune(runes[i+1])
					i++
				} else {
					inDouble = false
				}
			}
			continue
		}

		switch c {
		case '\'':
			inSingle = true
			cur.WriteRune(c)
		case '"':
			inDouble = true
			cur.WriteRune(c)
		case '$':
			if tag, n := scanDollarTag(runes, i); n > 0 {
				dollar = tag
				dollarBody = i + n
				cur.WriteString(string(runes[i : i+n]))
				i += n - 1
			} else {
				cur.WriteRune(c)
			}
		case ';':
			if s := strings.TrimSpace(cur.String()); s != "" {
				stmts = append(stmts, s)
			}
			cur.Reset()
		default:
			cur.WriteRune(c)
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}

// scanDollarTag recognizes an opening $tag$ (or bare $$) at position i and
// returns the full tag text and its rune length.
func scanDollarTag(runes []rune, i int) (string, int) {
	j := i + 1
	for j < len(runes) && (isIdentRune(runes[j])) {
		j++
	}
	if j < len(runes) && runes[j] == '$' {
		return string(runes[i : j+1]), j + 1 - i
	}
	return "", 0
}

// hasTagAt reports whether the closing tag ends at the given start offset.
func hasTagAt(runes []rune, start int, tag string) bool {
	if start < 0 || start+len([]rune(tag)) > len(runes) {
		return false
	}
	return string(runes[start:start+len([]rune(tag))]) == tag
}

func isIdentRune(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
