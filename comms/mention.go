package comms

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/GoCodeAlone/boardroom/agent"
)

// minFragment is the shortest mention word allowed to match by substring.
const minFragment = 3

// ResolveMention finds the agent addressed by an @mention in content.
// Only agents in active are considered; a mention of anyone else yields
// false. Matching ignores case and whitespace. A key (id, role, or display
// name with spaces removed) matches when the text after '@' starts with it,
// or when the first word after '@' is contained in it. The longest key wins.
func ResolveMention(content string, active []agent.Descriptor) (agent.Descriptor, bool) {
	fold := cases.Fold()

	type candidate struct {
		desc agent.Descriptor
		key  string
	}
	var cands []candidate
	for _, d := range active {
		if !d.Active {
			continue
		}
		for _, k := range d.MentionKeys() {
			if k = fold.String(squash(k)); k != "" {
				cands = append(cands, candidate{desc: d, key: k})
			}
		}
	}
	if len(cands) == 0 {
		return agent.Descriptor{}, false
	}

	var best candidate
	for _, line := range strings.Split(content, "\n") {
		for i := strings.IndexByte(line, '@'); i >= 0; {
			rest := line[i+1:]
			tail := fold.String(squash(rest))
			word := fold.String(firstWord(rest))

			for _, c := range cands {
				if len(c.key) <= len(best.key) {
					continue
				}
				if strings.HasPrefix(tail, c.key) ||
					(len([]rune(word)) >= minFragment && strings.Contains(c.key, word)) {
					best = c
				}
			}

			next := strings.IndexByte(rest, '@')
			if next < 0 {
				break
			}
			i += next + 1
		}
	}
	if best.key == "" {
		return agent.Descriptor{}, false
	}
	return best.desc, true
}

// squash removes all whitespace.
func squash(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// firstWord returns the leading run of letters, digits, '_', '-' and '.'.
func firstWord(s string) string {
	end := len(s)
	for i, r := range s {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.') {
			end = i
			break
		}
	}
	return strings.TrimRight(s[:end], ".")
}
