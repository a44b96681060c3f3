package actions

import "strings"

// DefaultApps maps a lower-case app name to the URI that launches it.
var DefaultApps = map[string]string{
	"whatsapp":   "whatsapp://send",
	"facebook":   "fb://",
	"youtube":    "https://youtube.com",
	"calculator": "intent://#Intent;action=android.intent.action.MAIN;category=android.intent.category.APP_CALCULATOR;end",
	"dialer":     "tel:",
	"settings":   "intent://#Intent;action=android.settings.SETTINGS;end",
	"camera":     "intent://#Intent;action=android.media.action.IMAGE_CAPTURE;end",
}

// appTable is a case-insensitive name to URI table.
type appTable map[string]string

func newAppTable(base, overrides map[string]string) appTable {
	t := make(appTable, len(base)+len(overrides))
	for name, uri := range base {
		t[normalizeApp(name)] = uri
	}
	for name, uri := range overrides {
		if uri == "" {
			delete(t, normalizeApp(name))
			continue
		}
		t[normalizeApp(name)] = uri
	}
	return t
}

func (t appTable) lookup(name string) (string, bool) {
	uri, ok := t[normalizeApp(name)]
	return uri, ok
}

func normalizeApp(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
