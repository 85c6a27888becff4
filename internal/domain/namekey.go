package domain

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

//go:embed namekeys.json
var defaultNameKeys []byte

// NameKeys derives the frontend lookup key for a neighbourhood name.
type NameKeys struct {
	Version string
	remap   map[string]string
}

type nameKeysFile struct {
	Version string            `json:"version"`
	Remap   map[string]string `json:"remap"`
}

// LoadNameKeys parses a remap table. Table keys are matched after folding and
// accent stripping, so they may be written with accents or capitals.
func LoadNameKeys(data []byte) (*NameKeys, error) {
	var f nameKeysFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse name key table: %w", err)
	}
	if f.Version == "" {
		return nil, fmt.Errorf("name key table has no version")
	}
	nk := &NameKeys{Version: f.Version, remap: make(map[string]string, len(f.Remap))}
	for from, to := range f.Remap {
		nk.remap[foldName(from)] = foldName(to)
	}
	return nk, nil
}

// DefaultNameKeys returns the table embedded in the binary.
func DefaultNameKeys() *NameKeys {
	nk, err := LoadNameKeys(defaultNameKeys)
	if err != nil {
		panic(err)
	}
	return nk
}

// Key folds case, strips diacritics, applies the remap table and removes all
// whitespace: "Montese (Terra Firme)" → "terrafirme", "São Braz" → "saobraz".
func (nk *NameKeys) Key(name string) string {
	folded := foldName(name)
	if to, ok := nk.remap[folded]; ok {
		folded = to
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, folded)
}

// foldName lower-cases, removes combining marks and collapses runs of spaces.
func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, cases.Fold().String(s))
	if err != nil {
		stripped = strings.ToLower(s)
	}
	return strings.Join(strings.Fields(stripped), " ")
}
