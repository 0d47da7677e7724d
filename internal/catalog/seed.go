package catalog

import (
	_ "embed"
	"fmt"

	"github.com/BurntSushi/toml"
)

//go:embed seed.toml
var seedTOML string

type seedFile struct {
	Category []struct {
		Path    []string `toml:"path"`
		HeTitle string   `toml:"he_title"`
		Aliases []string `toml:"aliases"`
	} `toml:"category"`
	Work []struct {
		Title      string   `toml:"title"`
		HeTitle    string   `toml:"he_title"`
		Categories []string `toml:"categories"`
		Aliases    []string `toml:"aliases"`
		Depth      int      `toml:"depth"`
		Sections   []string `toml:"sections"`
		Address    []string `toml:"address"`
	} `toml:"work"`
	Topic []struct {
		Slug    string   `toml:"slug"`
		Title   string   `toml:"title"`
		HeTitle string   `toml:"he_title"`
		Aliases []string `toml:"aliases"`
	} `toml:"topic"`
}

// SeedEntries parses the embedded core catalogue.
func SeedEntries() ([]*Entry, error) {
	return ParseSeed(seedTOML)
}

// ParseSeed parses catalogue entries from TOML.
func ParseSeed(data string) ([]*Entry, error) {
	var f seedFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed catalogue: %w", err)
	}

	var out []*Entry
	for _, c := range f.Category {
		if len(c.Path) == 0 {
			return nil, fmt.Errorf("seed category without path")
		}
		out = append(out, &Entry{
			ID:           entryID(KindCategory, "", c.Path, ""),
			Kind:         KindCategory,
			Title:        c.Path[len(c.Path)-1],
			HeTitle:      c.HeTitle,
			Aliases:      c.Aliases,
			CategoryPath: c.Path,
		})
	}
	for _, w := range f.Work {
		if w.Title == "" {
			return nil, fmt.Errorf("seed work without title")
		}
		out = append(out, &Entry{
			ID:           entryID(KindWork, w.Title, nil, ""),
			Kind:         KindWork,
			Title:        w.Title,
			HeTitle:      w.HeTitle,
			Aliases:      w.Aliases,
			CategoryPath: w.Categories,
			Depth:        w.Depth,
			SectionNames: w.Sections,
			AddressTypes: w.Address,
		})
	}
	for _, t := range f.Topic {
		if t.Slug == "" {
			return nil, fmt.Errorf("seed topic without slug")
		}
		title := t.Title
		if title == "" {
			title = t.Slug
		}
		out = append(out, &Entry{
			ID:      entryID(KindTopic, "", nil, t.Slug),
			Kind:    KindTopic,
			Title:   title,
			HeTitle: t.HeTitle,
			Aliases: t.Aliases,
			Slug:    t.Slug,
		})
	}
	return out, nil
}

// SeedIndex builds an Index from the embedded catalogue.
func SeedIndex() (*Index, error) {
	entries, err := SeedEntries()
	if err != nil {
		return nil, err
	}
	return NewIndex(entries)
}
