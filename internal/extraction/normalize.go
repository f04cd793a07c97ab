package extraction

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	dashReplacer = strings.NewReplacer(
		"\u2010", "-", // hyphen
		"\u2011", "-", // non-breaking hyphen
		"\u2012", "-", // figure dash
		"\u2013", "-", // en dash
		"\u2014", "-", // em dash
		"\u2015", "-", // horizontal bar
		"\u2212", "-", // minus sign
		"\ufe58", "-",
		"\ufe63", "-",
		"\uff0d", "-",
		"\uff1a", ":", // fullwidth colon
	)
	multiSpacePattern = regexp.MustCompile(` {2,}`)
	colonSpacePattern = regexp.MustCompile(` +:`)
)

// Normalize canonicalizes whitespace, dashes and label colons so every
// downstream pattern sees the same character set. Line structure is kept.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	raw = dashReplacer.Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r == '\n':
			b.WriteRune(r)
		case r == '\u200b' || r == '\u200c' || r == '\u200d' || r == '\ufeff' || r == '\u00ad':
			// zero-width and soft hyphen
		case r == '\t' || r == '\v' || r == '\f' || unicode.Is(unicode.Zs, r):
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}

	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		line = multiSpacePattern.ReplaceAllString(line, " ")
		line = colonSpacePattern.ReplaceAllString(line, ":")
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

// fold strips diacritics and upper-cases s. A fresh transformer is built per
// call because transform chains carry internal buffers.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToUpper(out)
}

func foldLines(lines []string) []string {
	folded := make([]string, len(lines))
	for i, line := range lines {
		folded[i] = fold(line)
	}
	return folded
}
