package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/harvest"
)

func newCollectCmd() *cobra.Command {
	var (
		sources []string
		terms   []string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect keywords related to seed terms",
		Long: `Runs one harvest job per (source, term) pair on the worker pool and prints
the finished jobs as JSON. With no --source every enabled source is used.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				sources = appInstance.Sources()
			}
			var reqs []harvest.Request
			for _, source := range sources {
				for _, term := range terms {
					reqs = append(reqs, harvest.Request{Source: source, Term: term, Limit: limit})
				}
			}

			appInstance.Start(cmd.Context())
			jobs, err := appInstance.Harvest(cmd.Context(), reqs)
			if err != nil {
				return err
			}
			appInstance.Logger().Info("collect finished", zap.Int("jobs", len(jobs)))
			return writeJSON(cmd.OutOrStdout(), jobs)
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "source to query (repeatable)")
	cmd.Flags().StringArrayVar(&terms, "term", nil, "seed term (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum keywords per term")
	_ = cmd.MarkFlagRequired("term")
	return cmd
}

func newMetricsCmd() *cobra.Command {
	var (
		source string
		terms  []string
	)
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Measure volume and competition for terms on one source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			c, err := appInstance.Collector(source)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), c.CollectMetrics(cmd.Context(), terms))
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source to query")
	cmd.Flags().StringArrayVar(&terms, "term", nil, "term to measure (repeatable)")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("term")
	return cmd
}

func newClassifyCmd() *cobra.Command {
	var (
		source string
		terms  []string
	)
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Label terms with their search intent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if source == "" {
				all := appInstance.Sources()
				if len(all) == 0 {
					return errors.New("no enabled sources")
				}
				source = all[0]
			}
			c, err := appInstance.Collector(source)
			if err != nil {
				return err
			}
			intents := c.ClassifyIntent(cmd.Context(), terms)
			out := make(map[string]string, len(terms))
			for i, t := range terms {
				out[t] = string(intents[i])
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "collector whose classifier is used (default: first enabled)")
	cmd.Flags().StringArrayVar(&terms, "term", nil, "term to classify (repeatable)")
	_ = cmd.MarkFlagRequired("term")
	return cmd
}

func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state [source]",
		Short: "Print a collector's configuration and error log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			c, err := appInstance.Collector(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), c.State())
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
