package speech

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// SelectVoice picks the voice for locale: an exact locale match first, then
// a voice of the same base language, then one whose name mentions the
// language (e.g. "Bangla" or "বাংলা").
func SelectVoice(voices []Voice, locale language.Tag) (Voice, bool) {
	want := normalizeLocale(locale.String())
	base, _ := locale.Base()

	for _, v := range voices {
		if normalizeLocale(v.Lang) == want {
			return v, true
		}
	}

	for _, v := range voices {
		tag, err := language.Parse(normalizeLocale(v.Lang))
		if err != nil {
			continue
		}
		if b, _ := tag.Base(); b == base {
			return v, true
		}
	}

	names := languageNames(base)
	for _, v := range voices {
		name := strings.ToLower(v.Name)
		for _, n := range names {
			if strings.Contains(name, n) {
				return v, true
			}
		}
	}

	return Voice{}, false
}

func normalizeLocale(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-"))
}

func languageNames(base language.Base) []string {
	var out []string
	for _, n := range []string{
		display.English.Languages().Name(base),
		display.Self.Name(base),
	} {
		if n = strings.ToLower(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}
