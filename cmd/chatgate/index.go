// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sigil-dev/chatgate/internal/classifier"
	"github.com/sigil-dev/chatgate/internal/config"
	"github.com/sigil-dev/chatgate/internal/embedding"
	"github.com/sigil-dev/chatgate/internal/vectorindex"
	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build and inspect classifier artifacts",
	}
	cmd.AddCommand(newIndexBuildCmd(), newIndexInspectCmd())
	return cmd
}

func newIndexBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Embed labeled samples and write an artifact pair",
		Long: `Embed every sample of a YAML file mapping label to sample texts and write
the samples and index files for one dimension. Output paths default to the
configured artifact paths of that dimension.`,
		RunE: runIndexBuild,
	}

	cmd.Flags().String("dimension", "", "dimension to build: topic or intent")
	cmd.Flags().String("samples", "", "YAML file mapping each label to its sample texts")
	cmd.Flags().String("device", "", "device to record and request (overrides embedding.device)")
	cmd.Flags().String("samples-out", "", "samples file to write (default: configured path)")
	cmd.Flags().String("index-out", "", "index file to write (default: configured path)")
	cmd.Flags().Int("batch-size", 32, "texts per embedding request")
	cmd.Flags().Int("concurrency", 2, "embedding requests in flight")
	_ = cmd.MarkFlagRequired("dimension")
	_ = cmd.MarkFlagRequired("samples")

	return cmd
}

func newIndexInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show per-label counts of an artifact",
		RunE:  runIndexInspect,
	}

	cmd.Flags().String("dimension", "", "configured dimension to inspect: topic or intent")
	cmd.Flags().String("samples-file", "", "samples file to inspect (overrides --dimension)")

	return cmd
}

// labeledSample is one text with its label, in file order.
type labeledSample struct {
	Label string
	Text  string
}

// buildOptions drives one artifact build.
type buildOptions struct {
	Artifact    vectorindex.Artifact
	Embedding   embedding.Config
	BatchSize   int
	Concurrency int
}

func runIndexBuild(cmd *cobra.Command, _ []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	dimName, _ := cmd.Flags().GetString("dimension")
	dim, err := parseDimension(dimName)
	if err != nil {
		return err
	}

	samplesPath, _ := cmd.Flags().GetString("samples")
	samples, err := readLabeledSamples(samplesPath)
	if err != nil {
		return err
	}

	a := artifacts(cfg.Classifier)[dim]
	if p, _ := cmd.Flags().GetString("samples-out"); p != "" {
		a.SamplesPath = p
	}
	if p, _ := cmd.Flags().GetString("index-out"); p != "" {
		a.IndexPath = p
	}

	embCfg := embeddingConfig(cfg.Embedding, slog.Default())
	if d, _ := cmd.Flags().GetString("device"); d != "" {
		embCfg.Device = d
	}
	batch, _ := cmd.Flags().GetInt("batch-size")
	conc, _ := cmd.Flags().GetInt("concurrency")

	out, err := buildArtifact(commandContext(cmd), samples, buildOptions{
		Artifact:    a,
		Embedding:   embCfg,
		BatchSize:   batch,
		Concurrency: conc,
	})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %d samples (%d dims, %s on %s)\n  %s\n  %s\n",
		successStyle.Render("wrote "+string(dim)), len(out.Labels), out.Dimension, out.Model, out.Device,
		a.SamplesPath, a.IndexPath)
	return err
}

// buildArtifact embeds samples in order and writes the artifact pair.
func buildArtifact(ctx context.Context, samples []labeledSample, opts buildOptions) (*vectorindex.Samples, error) {
	if len(samples) == 0 {
		return nil, gateerr.New(gateerr.CodeIndexBuildInvalidInput, "no samples to embed")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	model, err := embedding.Load(ctx, opts.Embedding)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(samples))
	labels := make([]string, len(samples))
	for i, s := range samples {
		texts[i], labels[i] = s.Text, s.Label
	}

	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for start := 0; start < len(texts); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(texts))
		g.Go(func() error {
			out, err := model.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return gateerr.With(err, gateerr.Field("batch_start", start))
			}
			copy(vectors[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &vectorindex.Samples{
		Model:      model.Name(),
		Device:     model.Device(),
		Dimension:  model.Dimension(),
		Labels:     labels,
		Texts:      texts,
		Embeddings: vectors,
	}
	if err := vectorindex.WriteArtifact(ctx, opts.Artifact, out); err != nil {
		return nil, err
	}
	return out, nil
}

// readLabeledSamples parses a YAML mapping of label to sample texts,
// keeping the file's label order.
func readLabeledSamples(path string) ([]labeledSample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gateerr.Wrap(err, gateerr.CodeCLIInputInvalid, "reading samples", gateerr.FieldPath(path))
	}
	return parseLabeledSamples(data, path)
}

func parseLabeledSamples(data []byte, path string) ([]labeledSample, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, gateerr.Wrap(err, gateerr.CodeCLIInputInvalid, "parsing samples", gateerr.FieldPath(path))
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, gateerr.New(gateerr.CodeCLIInputInvalid, "samples must map each label to a list of texts",
			gateerr.FieldPath(path))
	}

	root := doc.Content[0]
	var out []labeledSample
	for i := 0; i+1 < len(root.Content); i += 2 {
		label := strings.TrimSpace(root.Content[i].Value)
		if label == "" {
			return nil, gateerr.New(gateerr.CodeCLIInputInvalid, "empty label", gateerr.FieldPath(path))
		}
		var texts []string
		if err := root.Content[i+1].Decode(&texts); err != nil {
			return nil, gateerr.Wrap(err, gateerr.CodeCLIInputInvalid,
				fmt.Sprintf("label %q: want a list of texts", label), gateerr.FieldPath(path))
		}
		for _, t := range texts {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, labeledSample{Label: label, Text: t})
			}
		}
	}
	if len(out) == 0 {
		return nil, gateerr.New(gateerr.CodeCLIInputInvalid, "samples file has no texts", gateerr.FieldPath(path))
	}
	return out, nil
}

func runIndexInspect(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("samples-file")
	name := path
	if path == "" {
		dimName, _ := cmd.Flags().GetString("dimension")
		dim, err := parseDimension(dimName)
		if err != nil {
			return err
		}
		cfg, err := config.FromViper(viper.GetViper())
		if err != nil {
			return err
		}
		path = artifacts(cfg.Classifier)[dim].SamplesPath
		name = string(dim)
	}

	s, err := vectorindex.ReadSamples(path)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), renderSamples(name, s))
	return err
}

func renderSamples(name string, s *vectorindex.Samples) string {
	order, counts := s.LabelCounts()
	width := 0
	for _, l := range order {
		width = max(width, len(l))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(name) + "\n")
	fmt.Fprintf(&b, "%s %d  %s %d  %s %s\n",
		dimStyle.Render("samples"), len(s.Labels),
		dimStyle.Render("labels"), len(order),
		dimStyle.Render("dimension"), dimensionText(s))
	if s.Model != "" {
		fmt.Fprintf(&b, "%s %s %s\n", dimStyle.Render("model"), s.Model, dimStyle.Render(s.Device))
	}

	sorted := append([]string(nil), order...)
	sort.SliceStable(sorted, func(i, j int) bool { return counts[sorted[i]] > counts[sorted[j]] })
	for _, l := range sorted {
		fmt.Fprintf(&b, "%s %d\n", labelStyle.Render(fmt.Sprintf("%-*s", width, l)), counts[l])
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func dimensionText(s *vectorindex.Samples) string {
	if s.Dimension > 0 {
		return fmt.Sprint(s.Dimension)
	}
	if len(s.Embeddings) > 0 {
		return fmt.Sprint(len(s.Embeddings[0]))
	}
	return "?"
}

func parseDimension(name string) (classifier.Dimension, error) {
	for _, d := range classifier.Dimensions {
		if strings.EqualFold(name, string(d)) {
			return d, nil
		}
	}
	return "", gateerr.Errorf(gateerr.CodeCLIInputInvalid, "unknown dimension %q (want topic or intent)", name)
}
