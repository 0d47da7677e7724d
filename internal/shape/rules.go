package shape

// Rule declares how one tool's payload is bounded.
type Rule struct {
	// Keep lists the top-level fields retained; empty keeps every field.
	Keep []string
	// ItemKeep lists, per list field, the fields retained in each object item.
	// The key "items" also applies to a payload whose root is a list.
	ItemKeep map[string][]string
	// ListCap is the default maximum length of list-valued fields.
	ListCap int
	// ListCaps overrides ListCap for fields with the given name, at any depth.
	ListCaps map[string]int
	// TextBudget is the maximum length of a string value, in runes.
	TextBudget int
	// MaxBytes bounds the compact JSON encoding; zero uses the shaper default.
	MaxBytes int
}

// Rules maps tool names to their shaping rule.
type Rules map[string]Rule

const (
	DefaultListCap    = 25
	DefaultTextBudget = 1000
	minTextBudget     = 32
)

func (r Rule) capFor(field string, shift int) int {
	base, ok := r.ListCaps[field]
	if !ok {
		base = r.ListCap
	}
	if base <= 0 {
		base = DefaultListCap
	}
	return max(1, base>>shift)
}

func (r Rule) maxCap() int {
	m := r.ListCap
	if m <= 0 {
		m = DefaultListCap
	}
	for _, c := range r.ListCaps {
		m = max(m, c)
	}
	return m
}

func (r Rule) textBudget() int {
	if r.TextBudget <= 0 {
		return DefaultTextBudget
	}
	return max(minTextBudget, r.TextBudget)
}

var searchItem = []string{"ref", "categories", "text_snippet"}

// DefaultRules is the shaping table for the Sefaria tools.
func DefaultRules() Rules {
	return Rules{
		"get_text": {
			Keep: []string{"ref", "heRef", "versions", "available_versions", "requestedRef", "spanningRefs",
				"textType", "sectionRef", "he", "text", "primary_title"},
			ItemKeep: map[string][]string{
				"versions":           {"text", "versionTitle", "languageFamilyName", "versionSource", "language", "direction"},
				"available_versions": {"versionTitle", "languageFamilyName"},
			},
			ListCap:    10,
			ListCaps:   map[string]int{"text": 200, "he": 200, "available_versions": 20, "spanningRefs": 20},
			TextBudget: 4000,
		},
		"text_search": {
			ItemKeep:   map[string][]string{"results": searchItem},
			ListCap:    100,
			ListCaps:   map[string]int{"categories": 6},
			TextBudget: 600,
		},
		"search_in_book": {
			ItemKeep:   map[string][]string{"results": searchItem},
			ListCap:    100,
			ListCaps:   map[string]int{"categories": 6},
			TextBudget: 600,
		},
		"search_in_dictionaries": {
			ItemKeep:   map[string][]string{"results": {"ref", "headword", "lexicon_name", "text"}},
			ListCap:    20,
			TextBudget: 800,
		},
		"english_semantic_search": {
			ListCap:    10,
			TextBudget: 1000,
		},
		"get_current_calendar": {
			ItemKeep: map[string][]string{
				"calendar_items": {"title", "displayValue", "ref", "heRef", "url", "category", "order", "description", "extraDetails"},
			},
			ListCap:    40,
			TextBudget: 500,
		},
		"get_links_between_texts": {
			ItemKeep: map[string][]string{
				"links": {"ref", "sourceRef", "anchorText", "type", "category", "text"},
			},
			ListCap:    60,
			TextBudget: 500,
		},
		"get_english_translations": {
			ItemKeep:   map[string][]string{"englishTranslations": {"versionTitle", "text"}},
			ListCap:    12,
			ListCaps:   map[string]int{"text": 200},
			TextBudget: 3000,
		},
		"get_topic_details": {
			Keep: []string{"slug", "titles", "description", "categoryDescription", "numSources",
				"primaryTitle", "image", "good_to_promote", "links", "refs", "refs_note"},
			ListCap:    10,
			ListCaps:   map[string]int{"titles": 12},
			TextBudget: 1200,
		},
		"clarify_name_argument": {
			ListCap:    20,
			TextBudget: 300,
		},
		"clarify_search_path_filter": {
			ListCap:    20,
			TextBudget: 300,
		},
		"get_text_or_category_shape": {
			ListCap:    60,
			ListCaps:   map[string]int{"chapters": 200},
			TextBudget: 300,
		},
		"get_text_catalogue_info": {
			Keep: []string{"title", "heTitle", "titleVariants", "schema", "categories", "sectionNames",
				"addressTypes", "length", "lengths", "textDepth", "primaryTitle", "compDate", "era", "authors"},
			ListCap:    30,
			TextBudget: 1000,
		},
		"get_available_manuscripts": {
			ItemKeep: map[string][]string{
				"manuscripts": {"manuscript_slug", "page_id", "image_url", "thumbnail_url", "anchorRef", "anchorRefExpanded", "manuscript"},
			},
			ListCap:    20,
			ListCaps:   map[string]int{"anchorRefExpanded": 10},
			TextBudget: 600,
		},
		"get_manuscript_image": {
			ListCap:    10,
			TextBudget: 500,
		},
	}
}
