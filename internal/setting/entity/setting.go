package entity

import "sort"

// Setting is one key/value pair of the site settings store.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Known setting keys. The store is schemaless; other keys pass through.
const (
	KeySiteTitle      = "site_title"
	KeyWhatsAppNumber = "whatsapp_number"
	KeyEmail          = "email"
	KeyTagline        = "tagline"
	KeyWorkHours      = "work_hours"
	KeyAddress        = "address"
	KeyMapEmbedURL    = "map_embed_url"
	KeyMapDirectURL   = "map_direct_url"
)

// Field describes a known key for display.
type Field struct {
	Key   string
	Label string
}

// Known lists the settings vocabulary in display order.
var Known = []Field{
	{KeySiteTitle, "Site title"},
	{KeyWhatsAppNumber, "WhatsApp number"},
	{KeyEmail, "Contact email"},
	{KeyTagline, "Tagline"},
	{KeyWorkHours, "Working hours"},
	{KeyAddress, "Address"},
	{KeyMapEmbedURL, "Map embed URL"},
	{KeyMapDirectURL, "Map direct URL"},
}

// Label returns the display label of key, or the key itself when unknown.
func Label(key string) string {
	for _, f := range Known {
		if f.Key == key {
			return f.Label
		}
	}
	return key
}

// IsKnown reports whether key is part of the vocabulary.
func IsKnown(key string) bool {
	for _, f := range Known {
		if f.Key == key {
			return true
		}
	}
	return false
}

// ToMap folds a list into a map; later duplicates win.
func ToMap(list []Setting) map[string]string {
	m := make(map[string]string, len(list))
	for _, s := range list {
		m[s.Key] = s.Value
	}
	return m
}

// OrderedKeys returns the known keys in vocabulary order followed by any
// other keys of m in lexical order.
func OrderedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(Known)+len(m))
	for _, f := range Known {
		keys = append(keys, f.Key)
	}
	var extra []string
	for k := range m {
		if !IsKnown(k) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}
