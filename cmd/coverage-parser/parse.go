package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/insurelab/coverage-parser/internal/clausefile"
	"github.com/insurelab/coverage-parser/internal/domain"
)

func newParseCmd() *cobra.Command {
	var (
		text      string
		textFile  string
		coverage  string
		factsPath string
	)
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Parse one clause and print the outcome as JSON",
		Example: `  coverage-parser parse --type disease --text "被保险人确诊重大疾病，按基本保额给付。"
  coverage-parser parse --type death --text-file clause.txt --facts policy.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if textFile != "" {
				b, err := os.ReadFile(textFile)
				if err != nil {
					return err
				}
				text = string(b)
			}
			in := domain.ClauseInput{Text: text, CoverageType: domain.CoverageType(coverage)}
			if factsPath != "" {
				facts, err := readFacts(factsPath)
				if err != nil {
					return err
				}
				in.PolicyInfo = facts
			}

			cfg, err := loadConfig(cmd, os.Stderr)
			if err != nil {
				return err
			}
			p, err := newPipeline(cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			outcome := p.orchestrator.Parse(ctx, in)
			if err := printJSON(cmd.OutOrStdout(), outcome); err != nil {
				return err
			}
			if outcome.Status == domain.StatusFailed {
				return fmt.Errorf("parse failed: %s", outcome.Failure.Kind)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "clause text")
	cmd.Flags().StringVar(&textFile, "text-file", "", "read the clause text from a file")
	cmd.Flags().StringVar(&coverage, "type", "", "coverage type: disease, death, accident or annuity")
	cmd.Flags().StringVar(&factsPath, "facts", "", "JSON file with policyholder facts")
	cmd.MarkFlagsOneRequired("text", "text-file")
	cmd.MarkFlagsMutuallyExclusive("text", "text-file")
	cmd.MarkFlagRequired("type")
	return cmd
}

func newBatchCmd() *cobra.Command {
	var (
		path    string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Parse a ||| clause file locally and print a method and confidence report",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			records, skipped, err := clausefile.Read(f)
			f.Close()
			if err != nil {
				return err
			}
			for _, s := range skipped {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped line %d: %s\n", s.Line, s.Reason)
			}
			if len(records) == 0 {
				return fmt.Errorf("no clause records in %s", path)
			}

			cfg, err := loadConfig(cmd, os.Stderr)
			if err != nil {
				return err
			}
			p, err := newPipeline(cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			inputs := make([]domain.ClauseInput, len(records))
			for i, r := range records {
				inputs[i] = r.Input()
			}
			outcomes := p.orchestrator.ParseBatch(ctx, inputs)

			if outPath != "" {
				if err := writeOutcomes(outPath, records, outcomes); err != nil {
					return err
				}
			}
			return clausefile.WriteReport(cmd.OutOrStdout(), records, outcomes)
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "clause file (serial|||policyDocumentId|||coverageType|||coverageName|||clauseText)")
	cmd.Flags().StringVar(&outPath, "out", "", "write records and outcomes as JSON to this file")
	cmd.MarkFlagRequired("file")
	return cmd
}

func readFacts(path string) (*domain.PolicyFacts, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var facts domain.PolicyFacts
	if err := json.Unmarshal(b, &facts); err != nil {
		return nil, fmt.Errorf("decode facts %s: %w", path, err)
	}
	return &facts, nil
}

type batchEntry struct {
	clausefile.Record
	Outcome *domain.Outcome `json:"outcome"`
}

func writeOutcomes(path string, records []clausefile.Record, outcomes []*domain.Outcome) error {
	entries := make([]batchEntry, len(records))
	for i, r := range records {
		entries[i] = batchEntry{Record: r, Outcome: outcomes[i]}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := printJSON(f, entries); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
