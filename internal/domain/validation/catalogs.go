package validation

import (
	"sort"
	"strings"
)

// Interaction is a known conflict between two medicines, keyed by catalog code.
type Interaction struct {
	CodeA    string `json:"code_a"`
	CodeB    string `json:"code_b"`
	Severity string `json:"severity"`
	Note     string `json:"note"`
}

// InteractionCatalog answers whether two medicines are known to conflict.
type InteractionCatalog interface {
	Lookup(codeA, codeB string) (Interaction, bool)
}

// StaticInteractionCatalog is an in-memory interaction table. Pair lookup is
// order-independent.
type StaticInteractionCatalog struct {
	pairs map[string]Interaction
}

func NewStaticInteractionCatalog(interactions ...Interaction) *StaticInteractionCatalog {
	c := &StaticInteractionCatalog{pairs: make(map[string]Interaction, len(interactions))}
	for _, in := range interactions {
		c.pairs[pairKey(in.CodeA, in.CodeB)] = in
	}
	return c
}

func pairKey(a, b string) string {
	k := []string{strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))}
	sort.Strings(k)
	return k[0] + "|" + k[1]
}

func (c *StaticInteractionCatalog) Lookup(codeA, codeB string) (Interaction, bool) {
	in, ok := c.pairs[pairKey(codeA, codeB)]
	return in, ok
}

// AllergenCatalog decides whether a recorded allergy substance applies to a
// medicine.
type AllergenCatalog interface {
	Matches(substance, medicineName, genericName string) bool
}

// AliasAllergenCatalog matches by case-insensitive substring, widened by an
// alias table (e.g. a penicillin allergy also covers amoxicillin).
type AliasAllergenCatalog struct {
	aliases map[string][]string
}

// NewAliasAllergenCatalog builds a catalog from substance -> related terms.
func NewAliasAllergenCatalog(aliases map[string][]string) *AliasAllergenCatalog {
	normalized := make(map[string][]string, len(aliases))
	for substance, terms := range aliases {
		key := strings.ToLower(strings.TrimSpace(substance))
		for _, t := range terms {
			normalized[key] = append(normalized[key], strings.ToLower(strings.TrimSpace(t)))
		}
	}
	return &AliasAllergenCatalog{aliases: normalized}
}

// DefaultAllergenCatalog covers the common cross-reactive drug families.
func DefaultAllergenCatalog() *AliasAllergenCatalog {
	return NewAliasAllergenCatalog(map[string][]string{
		"penicillin": {"amoxicillin", "ampicillin", "piperacillin", "benzylpenicillin"},
		"sulfa":      {"sulfamethoxazole", "sulfasalazine", "sulfadiazine"},
		"aspirin":    {"acetylsalicylic"},
		"ibuprofen":  {"naproxen", "diclofenac", "ketoprofen"},
		"cephalexin": {"cefazolin", "ceftriaxone", "cefuroxime"},
	})
}

func (c *AliasAllergenCatalog) Matches(substance, medicineName, genericName string) bool {
	substance = strings.ToLower(strings.TrimSpace(substance))
	if substance == "" {
		return false
	}
	name := strings.ToLower(medicineName)
	generic := strings.ToLower(genericName)

	if strings.Contains(name, substance) || (generic != "" && strings.Contains(generic, substance)) {
		return true
	}
	for _, term := range c.aliases[substance] {
		if strings.Contains(name, term) || (generic != "" && strings.Contains(generic, term)) {
			return true
		}
	}
	return false
}
