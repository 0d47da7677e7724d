package tools

import "github.com/olgasafonova/sefaria-mcp-server/internal/sefaria"

const searchTips = `SEARCH TIPS:
- Hebrew/Aramaic searches are more reliable than English translations
- English searches can be hit-and-miss due to translation variations
- If no results are found, try fewer words`

// AllTools contains all tool specifications for the Sefaria MCP server.
// Tools are organized by category for easier maintenance.
// Tool descriptions follow a structured format for optimal LLM tool selection:
// - USE WHEN: Natural language triggers
// - NOT FOR: Disambiguation from similar tools
// - PARAMETERS: Key arguments with defaults
// - RETURNS: What the tool returns
var AllTools = []ToolSpec{
	// ==========================================================================
	// TEXT TOOLS
	// ==========================================================================
	{
		Name:     sefaria.ToolGetText,
		Method:   "GetText",
		Title:    "Get Text",
		Category: "text",
		Description: `Retrieve the text of a specific passage in the Jewish library.

USE WHEN: User asks "what does Genesis 1:1 say", "show me Berakhot 2a", "quote Pirkei Avot 1:1".

NOT FOR: Finding which passage contains a phrase (use text_search). Comparing translations (use get_english_translations).

PARAMETERS:
- reference: Citation such as 'Genesis 1:1', 'Berakhot 2a' or 'Exodus 20:1-14' (required). Common aliases like 'Bereshit' resolve.
- version_language: 'source', 'english' or 'both' (optional, default all versions)

RETURNS: Canonical ref, Hebrew ref and versions with text, version title and language. Ambiguous or unknown titles fail with ranked candidates.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     sefaria.ToolTranslations,
		Method:   "GetEnglishTranslations",
		Title:    "Get English Translations",
		Category: "text",
		Description: `List every English translation of a passage.

USE WHEN: User asks "how do different translators render Psalms 23:1", "compare translations of X".

NOT FOR: Reading the Hebrew source (use get_text with version_language 'source').

PARAMETERS:
- reference: Citation such as 'Genesis 1:1' (required)

RETURNS: englishTranslations, each with versionTitle and text.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     sefaria.ToolLinks,
		Method:   "GetLinks",
		Title:    "Get Links Between Texts",
		Category: "text",
		Description: `Find commentaries, cross-references and quotations connected to a passage.

USE WHEN: User asks "what commentaries are there on Genesis 1:1", "where is this verse quoted".

NOT FOR: Reading the passage itself (use get_text).

PARAMETERS:
- reference: Citation such as 'Genesis 1:1' or 'Berakhot 2a' (required)
- with_text: '1' to include the linked text, '0' to omit it (default '0')

RETURNS: links with ref, sourceRef, type, category and optionally text.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},

	// ==========================================================================
	// SEARCH TOOLS
	// ==========================================================================
	{
		Name:     sefaria.ToolTextSearch,
		Method:   "TextSearch",
		Title:    "Search Library",
		Category: "search",
		Description: `Search ACROSS the entire Jewish library for passages containing specific terms.

USE WHEN: User asks "where does the phrase X appear", "find sources about X", or does not know which book holds a passage.

NOT FOR: Searching one known book (use search_in_book). Conceptual questions in English (use english_semantic_search).

PARAMETERS:
- query: Search terms, Hebrew/Aramaic preferred (required)
- filters: Category paths such as 'Tanakh/Torah' or bare names such as 'Mishnah' (optional)
- size: Max results, 1-100 (default 10)

RETURNS: Total hit count and results with ref, categories and text_snippet. When filters match nothing the search is repeated without them and filter_correction explains it.

` + searchTips,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     sefaria.ToolSearchInBook,
		Method:   "SearchInBook",
		Title:    "Search in Book",
		Category: "search",
		Description: `Search WITHIN one book or work (not across the library).

USE WHEN: User says "find X in Genesis", "where does Rashi on Genesis mention Y", "search Berakhot for Z".

NOT FOR: Searching the whole library (use text_search).

PARAMETERS:
- query: Search terms, Hebrew/Aramaic preferred (required)
- book_name: Book title or common alias (required)
- size: Max results, 1-100 (default 10)

RETURNS: The resolved book, its search path and matching results.

` + searchTips,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     sefaria.ToolDictionaries,
		Method:   "SearchDictionaries",
		Title:    "Search Dictionaries",
		Category: "search",
		Description: `Look up a word in the Jewish reference dictionaries (Jastrow, Klein, BDB, BDB Aramaic, Kovetz Yesodot VaChakirot).

USE WHEN: User asks "what does the word X mean", "define X", "etymology of X".

NOT FOR: Finding passages that use a word (use text_search).

PARAMETERS:
- query: Hebrew, Aramaic or English term (required)

RETURNS: Entries with ref, headword, lexicon_name and text.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     sefaria.ToolSemanticSearch,
		Method:   "SemanticSearch",
		Title:    "Semantic Search",
		Category: "search",
		Description: `Find passages conceptually similar to an English query, even without shared words.

USE WHEN: User asks a thematic question such as "sources about forgiving others" or describes an idea without exact wording.

NOT FOR: Exact phrases or Hebrew terms (use text_search).

PARAMETERS:
- query: English phrase close to the answer you want, not the question (required)
- filters: Optional object with document_categories, authors, eras, topics and places lists. eras must be one of Tannaim, Amoraim, Geonim, Rishonim, Acharonim, Contemporary.

RETURNS: Nearest text chunks with their content and metadata.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},

	// ==========================================================================
	// CATALOGUE TOOLS
	// ==========================================================================
	{
		Name:     sefaria.ToolClarifyName,
		Method:   "ClarifyName",
		Title:    "Clarify Name",
		Category: "catalogue",
		Description: `Validate or autocomplete a book title, category, author or topic name.

USE WHEN: A name is uncertain ("is it Berakhot or Brachot", "who is the Rambam"), or another tool reported an ambiguous or unknown name.

NOT FOR: Fetching text (use get_text once the name is known).

PARAMETERS:
- name: Partial or complete name (required)
- limit: Max suggestions (optional)
- type_filter: 'ref', 'Topic', 'Collection' and similar (optional)

RETURNS: Ranked candidates with id, title, kind, path, score and exact flag, plus the library's own autocomplete answer.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     sefaria.ToolClarifySearchPath,
		Method:   "ClarifySearchPath",
		Title:    "Clarify Search Path",
		Category: "catalogue",
		Description: `Convert a book name into the category path used as a search filter.

USE WHEN: Building filters for text_search, e.g. "what filter selects Genesis" or "search all of Tanakh".

NOT FOR: Running the search (use text_search or search_in_book).

PARAMETERS:
- book_name: Book title or common alias (required)
- scope: An ancestor category of the book to widen the filter, e.g. 'Tanakh' (optional)

RETURNS: path (e.g. 'Tanakh/Torah/Genesis'), its segments and whether it came from the local catalogue or the library.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     sefaria.ToolShape,
		Method:   "GetShape",
		Title:    "Get Text or Category Shape",
		Category: "catalogue",
		Description: `Show how a work or category is organized: chapters, verse counts, member works.

USE WHEN: User asks "how many chapters does Isaiah have", "what tractates are in Seder Moed".

NOT FOR: Bibliographic details such as authors and dates (use get_text_catalogue_info).

PARAMETERS:
- name: Work title or category (required)

RETURNS: Structure data with lengths per section.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     sefaria.ToolCatalogue,
		Method:   "GetCatalogueInfo",
		Title:    "Get Catalogue Info",
		Category: "catalogue",
		Description: `Retrieve the bibliographic and structural index record of a work.

USE WHEN: User asks "who wrote X", "when was X composed", "what are the section names of X".

NOT FOR: Chapter and verse counts (use get_text_or_category_shape).

PARAMETERS:
- title: Work title such as 'Genesis' or 'Mishnah Berakhot' (required)

RETURNS: The index record: titles, categories, schema, authors and composition data.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     sefaria.ToolTopic,
		Method:   "GetTopic",
		Title:    "Get Topic Details",
		Category: "catalogue",
		Description: `Retrieve a topic in Jewish thought: description, related topics and tagged sources.

USE WHEN: User asks "tell me about Moses", "what sources discuss Shabbat".

NOT FOR: Free-text searching (use text_search).

PARAMETERS:
- topic_slug: Topic slug or name, e.g. 'moses' or 'Sabbath' (required)
- with_links: Include related topics (default false)
- with_refs: Include tagged text references, first 10 shown (default false)

RETURNS: Topic titles, description and, on request, links and refs with refs_note.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     sefaria.ToolCalendar,
		Method:   "Calendar",
		Title:    "Current Jewish Calendar",
		Category: "calendar",
		Description: `Provide today's Jewish calendar: Hebrew date, weekly parasha, daf yomi and other learning schedules.

USE WHEN: User asks "what is this week's parasha", "what is today's daf", "what is the Hebrew date".

PARAMETERS:
- diaspora: true for the diaspora schedule, false for Israel (optional)

RETURNS: calendar_items with title, displayValue and ref, plus "Hebrew Date".`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},

	// ==========================================================================
	// MANUSCRIPT TOOLS
	// ==========================================================================
	{
		Name:     sefaria.ToolManuscripts,
		Method:   "GetManuscripts",
		Title:    "Get Available Manuscripts",
		Category: "manuscripts",
		Description: `List historical manuscripts of a passage with their image URLs.

USE WHEN: User asks "are there manuscripts of Berakhot 2a", "show old copies of this verse".

NOT FOR: Downloading an image (use get_manuscript_image with a URL from this tool).

PARAMETERS:
- reference: Citation such as 'Berakhot 2a' (required)

RETURNS: Manuscript records with titles, page ids and image URLs. Fails NotFound when none exist.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     sefaria.ToolManuscriptImage,
		Method:   "GetManuscriptImage",
		Title:    "Get Manuscript Image",
		Category: "manuscripts",
		Description: `Download a manuscript image so it can be viewed.

USE WHEN: User wants to see a manuscript page returned by get_available_manuscripts.

NOT FOR: Finding manuscripts (use get_available_manuscripts first).

PARAMETERS:
- image_url: Absolute http(s) image URL (required). Private network addresses are refused.
- manuscript_title: Title to show with the image (optional)

RETURNS: The image as MCP image content with metadata (mime type, size, filename). Images over the size limit are rejected.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
}
