package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/traittech/assetcheck/internal/fixture"
)

func newGenerateCmd(a *app) *cobra.Command {
	var (
		root     string
		cdnBase  string
		planPath string
		noImages bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic catalog of games, tokens and NFT collections",
		Long: `Writes demo metadata files below the root, with image URLs rooted at the
CDN base URL. Stub PNG images are written next to each metadata file unless
--no-images is set. The default plan generates three games; --plan reads a
YAML file of the form:

  games:
    - {fungibles: 2, collections: 1, tokens: 3}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("root") {
				root = a.cfg.LocalRoot
			}
			if !cmd.Flags().Changed("cdn-base-url") {
				cdnBase = a.cfg.CDNBaseURL
			}
			plan := fixture.DefaultPlan()
			if planPath != "" {
				p, err := loadPlan(planPath)
				if err != nil {
					return invalid(err)
				}
				plan = p
			}
			opts := fixture.Options{Root: root, CDNBase: cdnBase, StubImages: !noImages, Logger: a.logger}
			return runGenerate(cmd.Context(), cmd.OutOrStdout(), a.logger, opts, plan)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&root, "root", "", "output directory (default: local_root)")
	fs.StringVar(&cdnBase, "cdn-base-url", "", "CDN base URL for image links (default: cdn_base_url)")
	fs.StringVar(&planPath, "plan", "", "YAML plan file")
	fs.BoolVar(&noImages, "no-images", false, "skip stub images")
	return cmd
}

func loadPlan(path string) (fixture.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fixture.Plan{}, fmt.Errorf("read plan: %w", err)
	}
	var plan fixture.Plan
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&plan); err != nil && !errors.Is(err, io.EOF) {
		return fixture.Plan{}, fmt.Errorf("parse plan %s: %w", path, err)
	}
	return plan, nil
}

func runGenerate(ctx context.Context, stdout io.Writer, logger *zap.Logger, opts fixture.Options, plan fixture.Plan) error {
	res, err := fixture.Generate(ctx, opts, plan)
	if err != nil {
		return invalid(fmt.Errorf("generate: %w", err))
	}
	logger.Info("catalog generated",
		zap.String("path", opts.Root),
		zap.Int("metadata", len(res.Metadata)),
		zap.Int("images", res.Images),
	)
	_, err = fmt.Fprintf(stdout, "wrote %d metadata files and %d images to %s\n", len(res.Metadata), res.Images, opts.Root)
	return err
}
