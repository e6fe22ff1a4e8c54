package gate

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const DefaultContext = "prototype"

var knownTitles = map[string]string{
	"pitch":     "Pitch Deck",
	"prototype": "Prototype",
}

// Title is the human name of the content a context protects.
func Title(context string) string {
	if t, ok := knownTitles[context]; ok {
		return t
	}
	words := strings.FieldsFunc(context, func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	})
	if len(words) == 0 {
		return knownTitles[DefaultContext]
	}
	return cases.Title(language.English).String(strings.Join(words, " "))
}

// FlagKey is the storage key of the access flag for a context.
func FlagKey(context string) string {
	return "vb-gate:" + context
}
