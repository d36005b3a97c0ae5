// Package fixture writes a synthetic asset catalog: games with an app agent,
// fungible tokens and NFT collections, plus optional stub images.
package fixture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	IconFile    = "icon_150x150.png"
	ListingFile = "listing_512x512.png"
	CoverFile   = "cover_1920x1920.png"

	maxIDs = 26
)

// GameSpec sizes one game.
type GameSpec struct {
	Fungibles   int `yaml:"fungibles"`
	Collections int `yaml:"collections"`
	Tokens      int `yaml:"tokens"`
}

// Plan lists the games to generate. Game ids are letters in plan order.
type Plan struct {
	Games []GameSpec `yaml:"games"`
}

// DefaultPlan is the demo catalog: three games with ten tokens per
// collection.
func DefaultPlan() Plan {
	return Plan{Games: []GameSpec{
		{Fungibles: 3, Collections: 5, Tokens: 10},
		{Fungibles: 2, Collections: 4, Tokens: 10},
		{Fungibles: 1, Collections: 4, Tokens: 10},
	}}
}

func (p Plan) Validate() error {
	if len(p.Games) == 0 {
		return errors.New("plan has no games")
	}
	if len(p.Games) > maxIDs {
		return fmt.Errorf("plan has %d games, at most %d are supported", len(p.Games), maxIDs)
	}
	for i, g := range p.Games {
		for _, n := range []struct {
			name  string
			value int
		}{
			{"fungibles", g.Fungibles},
			{"collections", g.Collections},
			{"tokens", g.Tokens},
		} {
			if n.value < 0 || n.value > maxIDs {
				return fmt.Errorf("game %s: %s must be between 0 and %d", letter(i), n.name, maxIDs)
			}
		}
	}
	return nil
}

type Options struct {
	Root       string
	CDNBase    string
	StubImages bool
	Logger     *zap.Logger
}

// Result counts what was written.
type Result struct {
	Metadata []string
	Images   int
}

// Generate writes the plan below opts.Root. Existing files are overwritten.
func Generate(ctx context.Context, opts Options, plan Plan) (Result, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return Result{}, errors.New("root is required")
	}
	if strings.TrimSpace(opts.CDNBase) == "" {
		return Result{}, errors.New("cdn base url is required")
	}
	if err := plan.Validate(); err != nil {
		return Result{}, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &generator{
		root:    filepath.Clean(opts.Root),
		cdnBase: strings.TrimRight(opts.CDNBase, "/"),
		stubs:   opts.StubImages,
	}
	for i, spec := range plan.Games {
		if err := ctx.Err(); err != nil {
			return g.result, err
		}
		if err := g.game(ctx, i, spec); err != nil {
			return g.result, err
		}
		logger.Debug("game generated",
			zap.String("game", "game-"+letter(i)),
			zap.Int("fungibles", spec.Fungibles),
			zap.Int("collections", spec.Collections),
		)
	}
	return g.result, nil
}

type generator struct {
	root    string
	cdnBase string
	stubs   bool
	result  Result
}

func (g *generator) game(ctx context.Context, gi int, spec GameSpec) error {
	a := letter(gi)
	gameName := "Game " + strings.ToUpper(a)

	dir := fmt.Sprintf("game-%s/app-agent-%s", a, a)
	rec := record{
		MetadataID:  "demo-app-agent-" + a,
		Title:       "Metadata of the demo AppAgent that represents the game " + gameName + ".",
		Description: "Metadata of the demo AppAgent that represents the game " + gameName + ".",
		Traits: traitSet{
			Named:      &namedTrait{Name: gameName},
			SquareIcon: g.image(dir, IconFile),
		},
	}
	if err := g.write(dir, "app-agent-"+a, rec, IconFile); err != nil {
		return err
	}

	for fi := 0; fi < spec.Fungibles; fi++ {
		f := letter(fi)
		dir := fmt.Sprintf("game-%s/fungible-%s-%s", a, a, f)
		rec := record{
			MetadataID:  fmt.Sprintf("demo-fungible-%s-%s", a, f),
			Title:       "Metadata of the demo fungible token for the game " + gameName + ".",
			Description: "Metadata of the demo fungible token for the game " + gameName + ".",
			Traits: traitSet{
				Named:      &namedTrait{Name: fmt.Sprintf("%s coin %s", gameName, strings.ToUpper(f))},
				Fungible:   &fungibleTrait{Symbol: strings.ToUpper(a + f + "c"), Decimals: 6},
				SquareIcon: g.image(dir, IconFile),
			},
		}
		if err := g.write(dir, fmt.Sprintf("fungible-%s-%s", a, f), rec, IconFile); err != nil {
			return err
		}
	}

	for ci := 0; ci < spec.Collections; ci++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := letter(ci)
		collection := fmt.Sprintf("game-%s/nft-collection-%s-%s", a, a, c)
		dir := fmt.Sprintf("%s/nft-collection-%s-%s", collection, a, c)
		rec := record{
			MetadataID:  fmt.Sprintf("demo-nft-collection-%s-%s", a, c),
			Title:       "Metadata of the demo NFT collection for the game " + gameName + ".",
			Description: "Metadata of the demo NFT collection for the game " + gameName + ".",
			Traits: traitSet{
				Named:                  &namedTrait{Name: fmt.Sprintf("%s collection %s", gameName, strings.ToUpper(c))},
				SquareIcon:             g.image(dir, IconFile),
				CollectionListingImage: g.image(dir, ListingFile),
			},
		}
		if err := g.write(dir, fmt.Sprintf("nft-collection-%s-%s", a, c), rec, IconFile, ListingFile); err != nil {
			return err
		}

		for ti := 0; ti < spec.Tokens; ti++ {
			t := letter(ti)
			dir := fmt.Sprintf("%s/nft-token-%s-%s-%s", collection, a, c, t)
			rec := record{
				MetadataID:  fmt.Sprintf("demo-nft-token-%s-%s-%s", a, c, t),
				Title:       "Metadata of the demo NFT token for the game " + gameName + ".",
				Description: "Metadata of the demo NFT token for the game " + gameName + ".",
				Traits: traitSet{
					Named:             &namedTrait{Name: fmt.Sprintf("%s token %s-%s", gameName, strings.ToUpper(c), strings.ToUpper(t))},
					SquareIcon:        g.image(dir, IconFile),
					TokenListingImage: g.image(dir, ListingFile),
					TokenCoverImage:   g.image(dir, CoverFile),
					TokenDescription: &descriptionTrait{
						Description: fmt.Sprintf("Demo token %s of collection %s in %s.", strings.ToUpper(t), strings.ToUpper(c), gameName),
					},
					TokenAttributes: &attributesTrait{Attributes: demoAttributes()},
				},
			}
			if err := g.write(dir, fmt.Sprintf("nft-token-%s-%s-%s", a, c, t), rec, IconFile, ListingFile, CoverFile); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *generator) image(dir, file string) *imageTrait {
	return &imageTrait{ImageURL: g.cdnBase + "/" + path.Join(dir, file)}
}

func (g *generator) write(dir, name string, rec record, images ...string) error {
	abs := filepath.Join(g.root, filepath.FromSlash(dir))
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(abs, name+".json"), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	g.result.Metadata = append(g.result.Metadata, path.Join(dir, name+".json"))

	if !g.stubs {
		return nil
	}
	for _, file := range images {
		img, err := stubImage(file)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(abs, file), img, 0o644); err != nil {
			return fmt.Errorf("write %s/%s: %w", dir, file, err)
		}
		g.result.Images++
	}
	return nil
}

var (
	stubsMu sync.Mutex
	stubs   = map[string][]byte{}
)

var stubSizes = map[string]int{
	IconFile:    150,
	ListingFile: 512,
	CoverFile:   1920,
}

// stubImage renders a flat square PNG of the size the file name implies.
// Encoded images are cached for the life of the process.
func stubImage(file string) ([]byte, error) {
	stubsMu.Lock()
	defer stubsMu.Unlock()
	if b, ok := stubs[file]; ok {
		return b, nil
	}
	size, ok := stubSizes[file]
	if !ok {
		return nil, fmt.Errorf("no stub image for %s", file)
	}
	img := image.NewPaletted(image.Rect(0, 0, size, size), color.Palette{color.RGBA{R: 0x2b, G: 0x5f, B: 0xd9, A: 0xff}})
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode %s: %w", file, err)
	}
	stubs[file] = buf.Bytes()
	return stubs[file], nil
}

func letter(i int) string {
	return string(rune('a' + i))
}
