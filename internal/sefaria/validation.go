package sefaria

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
)

const (
	// DefaultSearchSize is used when size is omitted
	DefaultSearchSize = 10
	// MaxSearchSize bounds size
	MaxSearchSize = 100
)

// Eras are the historical periods the semantic search service indexes.
var Eras = []string{"Tannaim", "Amoraim", "Geonim", "Rishonim", "Acharonim", "Contemporary"}

var versionLanguages = []string{"source", "english", "both"}

// requireString rejects empty and whitespace-only values.
func requireString(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return apierrors.NewValidationError(field, "", "is required")
	}
	return nil
}

// validateSize accepts 0 (use the default) or 1..MaxSearchSize.
func validateSize(size int) error {
	if size < 0 || size > MaxSearchSize {
		return apierrors.NewValidationError("size", fmt.Sprint(size), fmt.Sprintf("must be between 1 and %d", MaxSearchSize))
	}
	return nil
}

func sizeOrDefault(size int) int {
	if size == 0 {
		return DefaultSearchSize
	}
	return size
}

// Validate checks get_text arguments.
func (a GetTextArgs) Validate() error {
	if err := requireString("reference", a.Reference); err != nil {
		return err
	}
	if a.VersionLanguage != "" && !slices.Contains(versionLanguages, a.VersionLanguage) {
		return apierrors.NewValidationError("version_language", a.VersionLanguage, "must be one of source, english, both")
	}
	return nil
}

// Validate checks text_search arguments.
func (a TextSearchArgs) Validate() error {
	if err := requireString("query", a.Query); err != nil {
		return err
	}
	return validateSize(a.Size)
}

// Validate accepts any calendar arguments.
func (a CalendarArgs) Validate() error { return nil }

// Validate checks english_semantic_search arguments.
func (a SemanticSearchArgs) Validate() error {
	if err := requireString("query", a.Query); err != nil {
		return err
	}
	if a.Filters == nil {
		return nil
	}
	for _, era := range a.Filters.Eras {
		if !slices.Contains(Eras, era) {
			return apierrors.NewValidationError("filters.eras", era, "must be one of "+strings.Join(Eras, ", "))
		}
	}
	return nil
}

// Validate checks get_links_between_texts arguments.
func (a LinksArgs) Validate() error {
	if err := requireString("reference", a.Reference); err != nil {
		return err
	}
	if a.WithText != "" && a.WithText != "0" && a.WithText != "1" {
		return apierrors.NewValidationError("with_text", a.WithText, "must be '0' or '1'")
	}
	return nil
}

// Validate checks search_in_book arguments.
func (a SearchInBookArgs) Validate() error {
	if err := requireString("query", a.Query); err != nil {
		return err
	}
	if err := requireString("book_name", a.BookName); err != nil {
		return err
	}
	return validateSize(a.Size)
}

// Validate checks search_in_dictionaries arguments.
func (a DictionaryArgs) Validate() error {
	return requireString("query", a.Query)
}

// Validate checks get_english_translations arguments.
func (a TranslationsArgs) Validate() error {
	return requireString("reference", a.Reference)
}

// Validate checks get_topic_details arguments.
func (a TopicArgs) Validate() error {
	return requireString("topic_slug", a.TopicSlug)
}

// Validate checks clarify_name_argument arguments.
func (a ClarifyNameArgs) Validate() error {
	if err := requireString("name", a.Name); err != nil {
		return err
	}
	if a.Limit < 0 {
		return apierrors.NewValidationError("limit", fmt.Sprint(a.Limit), "cannot be negative")
	}
	return nil
}

// Validate checks clarify_search_path_filter arguments.
func (a SearchPathArgs) Validate() error {
	return requireString("book_name", a.BookName)
}

// Validate checks get_text_or_category_shape arguments.
func (a ShapeArgs) Validate() error {
	return requireString("name", a.Name)
}

// Validate checks get_text_catalogue_info arguments.
func (a CatalogueArgs) Validate() error {
	return requireString("title", a.Title)
}

// Validate checks get_available_manuscripts arguments.
func (a ManuscriptsArgs) Validate() error {
	return requireString("reference", a.Reference)
}

// Validate checks get_manuscript_image arguments. Network reachability is
// checked separately before fetching.
func (a ManuscriptImageArgs) Validate() error {
	if err := requireString("image_url", a.ImageURL); err != nil {
		return err
	}
	_, err := parseImageURL(a.ImageURL)
	return err
}

// parseImageURL requires an absolute http(s) URL with a host and no credentials.
func parseImageURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, apierrors.NewValidationError("image_url", raw, "is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apierrors.NewValidationError("image_url", raw, "must be an absolute http(s) URL")
	}
	if u.Hostname() == "" {
		return nil, apierrors.NewValidationError("image_url", raw, "must include a host")
	}
	if u.User != nil {
		return nil, apierrors.NewValidationError("image_url", raw, "must not contain credentials")
	}
	return u, nil
}
