package types

import "fmt"

// WildcardLocale marks a translation that applies to every locale.
const WildcardLocale = "*"

// Translation is one localized string.
type Translation struct {
	Locale      string `json:"locale"`
	Translation string `json:"translation"`
}

// Translations is an ordered list of localized strings with at most one
// entry per locale.
type Translations []Translation

// Validate returns ErrValidation when a locale appears more than once or an
// entry is empty.
func (ts Translations) Validate() error {
	seen := make(map[string]bool, len(ts))
	for _, t := range ts {
		if t.Locale == "" || t.Translation == "" {
			return fmt.Errorf("%w: empty translation entry", ErrValidation)
		}
		if seen[t.Locale] {
			return fmt.Errorf("%w: duplicate locale %q", ErrValidation, t.Locale)
		}
		seen[t.Locale] = true
	}
	return nil
}

// Get returns the translation for locale, falling back to the wildcard entry
// and then to the first entry.
func (ts Translations) Get(locale string) string {
	fallback := ""
	for _, t := range ts {
		if t.Locale == locale {
			return t.Translation
		}
		if t.Locale == WildcardLocale {
			fallback = t.Translation
		}
	}
	if fallback == "" && len(ts) > 0 {
		return ts[0].Translation
	}
	return fallback
}

// Clone returns a copy of ts that shares no backing array.
func (ts Translations) Clone() Translations {
	if ts == nil {
		return nil
	}
	out := make(Translations, len(ts))
	copy(out, ts)
	return out
}
