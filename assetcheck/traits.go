package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/traittech/assetcheck/internal/asset"
	"github.com/traittech/assetcheck/internal/traits"
)

func newTraitsCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "traits",
		Short: "Print the trait registry and the trait signature of every asset kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraits(cmd.Context(), cmd.OutOrStdout(), format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

type traitView struct {
	ID         string      `json:"id"`
	Rank       int         `json:"rank"`
	ImageField string      `json:"image_field,omitempty"`
	Fields     []fieldView `json:"fields"`
}

type fieldView struct {
	Key      string   `json:"key"`
	Kind     string   `json:"kind"`
	Required bool     `json:"required"`
	Enum     []string `json:"enum,omitempty"`
}

type kindView struct {
	Kind      string   `json:"kind"`
	Signature []string `json:"signature"`
}

func runTraits(ctx context.Context, stdout io.Writer, format string) error {
	registry, err := traits.NewRegistry(ctx)
	if err != nil {
		return invalid(fmt.Errorf("load trait registry: %w", err))
	}

	var views []traitView
	for _, id := range registry.IDs() {
		shape, err := registry.Shape(id)
		if err != nil {
			return invalid(err)
		}
		v := traitView{ID: string(id), Rank: shape.Rank(), ImageField: shape.ImageField()}
		for _, f := range shape.Fields() {
			v.Fields = append(v.Fields, fieldView{Key: f.Key, Kind: string(f.Kind), Required: f.Required, Enum: f.Enum})
		}
		views = append(views, v)
	}
	var kinds []kindView
	for _, k := range asset.Kinds() {
		kinds = append(kinds, kindView{Kind: k.String(), Signature: traits.Strings(k.Signature())})
	}

	switch format {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Traits []traitView `json:"traits"`
			Kinds  []kindView  `json:"kinds"`
		}{views, kinds})
	case "text":
	default:
		return invalid(fmt.Errorf("format must be text or json, got %q", format))
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tTRAIT\tIMAGE\tFIELDS")
	for _, v := range views {
		image := v.ImageField
		if image == "" {
			image = "-"
		}
		fields := make([]string, 0, len(v.Fields))
		for _, f := range v.Fields {
			s := f.Key + ":" + f.Kind
			if !f.Required {
				s += "?"
			}
			fields = append(fields, s)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", v.Rank, v.ID, image, strings.Join(fields, " "))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "KIND\tSIGNATURE")
	for _, k := range kinds {
		fmt.Fprintf(tw, "%s\t%s\n", k.Kind, strings.Join(k.Signature, ","))
	}
	return tw.Flush()
}
