package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/traittech/assetcheck/internal/asset"
	"github.com/traittech/assetcheck/internal/catalog"
	"github.com/traittech/assetcheck/internal/consistency"
	"github.com/traittech/assetcheck/internal/traits"
)

func newValidateCmd(a *app) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate PATH...",
		Short: "Classify and validate metadata files without touching any backend",
		Long: `Validates each metadata file (or every metadata file below a directory)
and prints its asset kind and canonical trait list. Exit status is 2 when any
file fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("strict-attributes") {
				strict = a.cfg.StrictAttributes
			}
			return runValidate(cmd.Context(), cmd.OutOrStdout(), a.logger, args, strict)
		},
	}
	cmd.Flags().BoolVar(&strict, "strict-attributes", false, "type-check attribute values against display_type")
	return cmd
}

func runValidate(ctx context.Context, stdout io.Writer, logger *zap.Logger, args []string, strict bool) error {
	registry, err := traits.NewRegistry(ctx)
	if err != nil {
		return invalid(fmt.Errorf("load trait registry: %w", err))
	}
	validator, err := traits.NewValidator(registry, traits.WithStrictAttributes(strict))
	if err != nil {
		return invalid(err)
	}
	files, err := expandPaths(ctx, args)
	if err != nil {
		return invalid(err)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	failed := 0
	for _, file := range files {
		kind, ids, err := validateFile(validator, file)
		if err != nil {
			failed++
			f := consistency.FailureFrom(err)
			logger.Debug("metadata invalid", zap.String("path", file), zap.Error(err))
			fmt.Fprintf(tw, "FAIL\t%s\t%s\t%s\n", file, f.Reason, f.Message)
			continue
		}
		fmt.Fprintf(tw, "ok\t%s\t%s\t%s\n", file, kind, strings.Join(traits.Strings(ids), ","))
	}
	if err := tw.Flush(); err != nil {
		return invalid(err)
	}
	if failed > 0 {
		return invalid(fmt.Errorf("%d of %d files invalid", failed, len(files)))
	}
	return nil
}

// validateFile runs the structural pipeline on one file: classify, parse,
// validate traits, compare against the kind signature.
func validateFile(v *traits.Validator, file string) (asset.Kind, []traits.ID, error) {
	kind, err := asset.Classify(file)
	if err != nil {
		return 0, nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return kind, nil, &traits.MalformedRecordError{Reason: err.Error()}
	}
	rec, err := traits.ParseRecord(data)
	if err != nil {
		return kind, nil, err
	}
	ids, err := v.Validate(rec)
	if err != nil {
		return kind, nil, err
	}
	if err := kind.CheckSignature(ids); err != nil {
		return kind, ids, err
	}
	return kind, ids, nil
}

// expandPaths replaces each directory argument with the metadata files below
// it, in catalog order.
func expandPaths(ctx context.Context, args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		cat, err := catalog.Scan(ctx, arg)
		if err != nil {
			return nil, err
		}
		for _, e := range cat.Entries {
			out = append(out, e.Path)
		}
	}
	return out, nil
}
