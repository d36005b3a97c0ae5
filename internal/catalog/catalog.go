// Package catalog enumerates the metadata files under a local asset root and
// groups them by game.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/traittech/assetcheck/internal/asset"
)

const metadataExt = ".json"

// Entry is one metadata file.
type Entry struct {
	// Path is the file on the local filesystem.
	Path string
	// Rel is the slash-separated path below the root. It is the same on
	// every backend.
	Rel string
}

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a layout problem. Issues are reported, never fatal.
type Issue struct {
	Severity Severity `json:"severity"`
	Game     string   `json:"game,omitempty"`
	Dir      string   `json:"dir,omitempty"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	where := i.Dir
	if where == "" {
		where = i.Game
	}
	return fmt.Sprintf("%s: %s: %s", i.Severity, where, i.Message)
}

type Game struct {
	Name        string
	AppAgent    *Entry
	Fungibles   []Entry
	Collections []Collection
}

type Collection struct {
	Dir      string
	Metadata *Entry
	Tokens   []Entry
}

type Catalog struct {
	Root    string
	Entries []Entry
	Games   []Game
	Issues  []Issue
}

// Scan walks root for regular *.json files. Entries are sorted by Rel.
func Scan(ctx context.Context, root string) (*Catalog, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("catalog root is required")
	}
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("catalog root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalog root is not a directory: %s", root)
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(p), metadataExt) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Path: p, Rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Rel < entries[j].Rel })

	cat := &Catalog{Root: root, Entries: entries}
	cat.Games, cat.Issues = group(entries)
	return cat, nil
}

// Rels returns the relative path of every entry.
func (c *Catalog) Rels() []string {
	out := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		out[i] = e.Rel
	}
	return out
}

// group buckets entries into games. Files whose names carry no kind marker
// are left out; the checker rejects them.
func group(entries []Entry) ([]Game, []Issue) {
	var issues []Issue
	games := map[string]*Game{}
	// collection dir -> index into its game's Collections
	collections := map[string]int{}
	perDir := map[string]int{}
	var names []string

	gameOf := func(name string) *Game {
		g, ok := games[name]
		if !ok {
			g = &Game{Name: name}
			games[name] = g
			names = append(names, name)
		}
		return g
	}
	collectionOf := func(g *Game, dir string) *Collection {
		i, ok := collections[dir]
		if !ok {
			g.Collections = append(g.Collections, Collection{Dir: dir})
			i = len(g.Collections) - 1
			collections[dir] = i
		}
		return &g.Collections[i]
	}

	for _, e := range entries {
		e := e
		dir := path.Dir(e.Rel)
		perDir[dir]++
		if perDir[dir] == 2 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Game:     firstSegment(dir),
				Dir:      dir,
				Message:  "more than one metadata file in directory",
			})
		}

		kind, err := asset.Classify(e.Rel)
		if err != nil {
			continue
		}
		if dir == "." {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Dir:      e.Rel,
				Message:  "metadata file outside a game directory",
			})
			continue
		}

		g := gameOf(firstSegment(dir))
		switch kind {
		case asset.AppAgent:
			if g.AppAgent == nil {
				g.AppAgent = &e
			}
		case asset.Fungible:
			g.Fungibles = append(g.Fungibles, e)
		case asset.NftCollection:
			c := collectionOf(g, path.Dir(dir))
			if c.Metadata == nil {
				c.Metadata = &e
			}
		case asset.NftToken:
			c := collectionOf(g, path.Dir(dir))
			c.Tokens = append(c.Tokens, e)
		}
	}

	sort.Strings(names)
	out := make([]Game, 0, len(names))
	for _, name := range names {
		g := games[name]
		if g.AppAgent == nil {
			issues = append(issues, Issue{Severity: SeverityError, Game: name, Message: "no app agent metadata"})
		}
		if len(g.Fungibles) == 0 {
			issues = append(issues, Issue{Severity: SeverityWarning, Game: name, Message: "no fungible tokens"})
		}
		if len(g.Collections) == 0 {
			issues = append(issues, Issue{Severity: SeverityWarning, Game: name, Message: "no NFT collections"})
		}
		for _, c := range g.Collections {
			if c.Metadata == nil {
				issues = append(issues, Issue{Severity: SeverityError, Game: name, Dir: c.Dir, Message: "NFT collection has no metadata"})
			}
			if len(c.Tokens) == 0 {
				issues = append(issues, Issue{Severity: SeverityWarning, Game: name, Dir: c.Dir, Message: "NFT collection has no tokens"})
			}
		}
		out = append(out, *g)
	}
	return out, issues
}

func firstSegment(dir string) string {
	first, _, _ := strings.Cut(dir, "/")
	return first
}
