package migrate

import "strings"

// SplitStatements splits a SQL script on top-level semicolons. Quoted
// strings, quoted identifiers, dollar-quoted bodies and comments are kept
// intact. Empty statements are dropped.
func SplitStatements(script string) []string {
	var (
		stmts   []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" && !onlyComments(s) {
			stmts = append(stmts, s)
		}
		current.Reset()
	}

	for i := 0; i < len(script); {
		c := script[i]
		switch {
		case c == '-' && strings.HasPrefix(script[i:], "--"):
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				end = len(script) - i
			}
			current.WriteString(script[i : i+end])
			i += end
		case c == '/' && strings.HasPrefix(script[i:], "/*"):
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				end = len(script) - i - 2
			} else {
				end += 2
			}
			current.WriteString(script[i : i+2+end])
			i += 2 + end
		case c == '\'' || c == '"':
			j := i + 1
			for j < len(script) {
				if script[j] == c {
					// doubled quote escapes itself
					if j+1 < len(script) && script[j+1] == c {
						j += 2
						continue
					}
					break
				}
				j++
			}
			j = min(j+1, len(script))
			current.WriteString(script[i:j])
			i = j
		case c == '$':
			tag, ok := dollarTag(script[i:])
			if !ok {
				current.WriteByte(c)
				i++
				continue
			}
			end := strings.Index(script[i+len(tag):], tag)
			j := len(script)
			if end >= 0 {
				j = i + len(tag) + end + len(tag)
			}
			current.WriteString(script[i:j])
			i = j
		case c == ';':
			flush()
			i++
		default:
			current.WriteByte(c)
			i++
		}
	}
	flush()
	return stmts
}

// dollarTag returns the opening $tag$ at the start of s.
func dollarTag(s string) (string, bool) {
	for j := 1; j < len(s); j++ {
		c := s[j]
		if c == '$' {
			return s[:j+1], true
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || j > 1 && c >= '0' && c <= '9') {
			return "", false
		}
	}
	return "", false
}

func onlyComments(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
