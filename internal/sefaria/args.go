package sefaria

// GetTextArgs contains parameters for get_text
type GetTextArgs struct {
	Reference       string `json:"reference" jsonschema:"Specific text reference, e.g. 'Genesis 1:1', 'Berakhot 2a', 'Genesis 1:1-3'"`
	VersionLanguage string `json:"version_language,omitempty" jsonschema:"Which language version to retrieve: 'source', 'english' or 'both'. Omit for all versions"`
}

// TextSearchArgs contains parameters for text_search
type TextSearchArgs struct {
	Query   string   `json:"query" jsonschema:"Search terms; Hebrew or Aramaic gives the most reliable results"`
	Filters []string `json:"filters,omitempty" jsonschema:"Category paths or work names limiting the search, e.g. 'Tanakh/Torah', 'Talmud/Bavli', 'Mishnah'"`
	Size    int      `json:"size,omitempty" jsonschema:"Maximum number of results, 1-100 (default 10)"`
}

// CalendarArgs contains parameters for get_current_calendar
type CalendarArgs struct {
	Diaspora *bool `json:"diaspora,omitempty" jsonschema:"Use the diaspora reading schedule (default: upstream default, Israel when they differ)"`
}

// SemanticFilters are the metadata filters accepted by the semantic search service.
type SemanticFilters struct {
	DocumentCategories []string `json:"document_categories,omitempty" jsonschema:"Document types, e.g. ['Mishnah', 'Talmud']"`
	Authors            []string `json:"authors,omitempty" jsonschema:"Author names, e.g. ['Rashi', 'Rambam']"`
	Eras               []string `json:"eras,omitempty" jsonschema:"Historical periods: Tannaim, Amoraim, Geonim, Rishonim, Acharonim, Contemporary"`
	Topics             []string `json:"topics,omitempty" jsonschema:"Topics, e.g. ['halakhah', 'aggadah']"`
	Places             []string `json:"places,omitempty" jsonschema:"Composition places, e.g. ['Jerusalem', 'Babylon']"`
}

func (f *SemanticFilters) empty() bool {
	return f == nil || len(f.DocumentCategories)+len(f.Authors)+len(f.Eras)+len(f.Topics)+len(f.Places) == 0
}

// SemanticSearchArgs contains parameters for english_semantic_search
type SemanticSearchArgs struct {
	Query   string           `json:"query" jsonschema:"English phrase close to the passage you want to find"`
	Filters *SemanticFilters `json:"filters,omitempty" jsonschema:"Optional metadata filters"`
}

// LinksArgs contains parameters for get_links_between_texts
type LinksArgs struct {
	Reference string `json:"reference" jsonschema:"Specific text reference, e.g. 'Genesis 1:1'"`
	WithText  string `json:"with_text,omitempty" jsonschema:"Include linked text content: '0' (default) or '1'"`
}

// SearchInBookArgs contains parameters for search_in_book
type SearchInBookArgs struct {
	Query    string `json:"query" jsonschema:"Search terms to find within the book"`
	BookName string `json:"book_name" jsonschema:"Name of the book to search within, e.g. 'Genesis', 'Berakhot'"`
	Size     int    `json:"size,omitempty" jsonschema:"Maximum number of results, 1-100 (default 10)"`
}

// DictionaryArgs contains parameters for search_in_dictionaries
type DictionaryArgs struct {
	Query string `json:"query" jsonschema:"Hebrew, Aramaic or English term to look up"`
}

// TranslationsArgs contains parameters for get_english_translations
type TranslationsArgs struct {
	Reference string `json:"reference" jsonschema:"Specific text reference, e.g. 'Genesis 1:1'"`
}

// TopicArgs contains parameters for get_topic_details
type TopicArgs struct {
	TopicSlug string `json:"topic_slug" jsonschema:"Topic slug or name, e.g. 'moses', 'sabbath'"`
	WithLinks bool   `json:"with_links,omitempty" jsonschema:"Include links to related topics"`
	WithRefs  bool   `json:"with_refs,omitempty" jsonschema:"Include text references tagged with this topic (first 10)"`
}

// ClarifyNameArgs contains parameters for clarify_name_argument
type ClarifyNameArgs struct {
	Name       string `json:"name" jsonschema:"Partial or complete name of a text, category, author or topic"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Maximum number of suggestions (default 10)"`
	TypeFilter string `json:"type_filter,omitempty" jsonschema:"Restrict results by type, e.g. 'ref', 'Topic', 'Category', 'Collection'"`
}

// SearchPathArgs contains parameters for clarify_search_path_filter
type SearchPathArgs struct {
	BookName string `json:"book_name" jsonschema:"Name of the book or category to convert"`
	Scope    string `json:"scope,omitempty" jsonschema:"Optional ancestor to widen the filter to, e.g. 'Tanakh' or 'Bavli'"`
}

// ShapeArgs contains parameters for get_text_or_category_shape
type ShapeArgs struct {
	Name string `json:"name" jsonschema:"Text title or category name, e.g. 'Genesis', 'Tanakh', 'Bavli'"`
}

// CatalogueArgs contains parameters for get_text_catalogue_info
type CatalogueArgs struct {
	Title string `json:"title" jsonschema:"Title of the work, e.g. 'Genesis', 'Mishnah Berakhot'"`
}

// ManuscriptsArgs contains parameters for get_available_manuscripts
type ManuscriptsArgs struct {
	Reference string `json:"reference" jsonschema:"Specific text reference, e.g. 'Genesis 1:1', 'Berakhot 2a'"`
}

// ManuscriptImageArgs contains parameters for get_manuscript_image
type ManuscriptImageArgs struct {
	ImageURL        string `json:"image_url" jsonschema:"Absolute http(s) URL of the manuscript image, as returned by get_available_manuscripts"`
	ManuscriptTitle string `json:"manuscript_title,omitempty" jsonschema:"Title or description used for display"`
}
