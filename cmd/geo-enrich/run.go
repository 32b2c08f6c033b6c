package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Sternrassler/geo-enrich/internal/idlist"
	"github.com/Sternrassler/geo-enrich/internal/output"
	"github.com/Sternrassler/geo-enrich/pkg/pipeline"
	"github.com/spf13/cobra"
)

type runOptions struct {
	idsFile string
	idList  string
	out     string
	format  string
	minRows int
	minIDs  int
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Enrich an identifier list once and write the rows",
		Example: `  geo-enrich run --ids pmids.txt --out PubMed_data.csv
  geo-enrich run --id-list 30000001,30000002 --format json
  cat pmids.txt | geo-enrich run --ids -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnrich(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.idsFile, "ids", "", "file with one identifier per line (- for stdin)")
	cmd.Flags().StringVar(&opts.idList, "id-list", "", "comma separated identifiers")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "-", "output file (- for stdout)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "csv", "output format: csv or json")
	cmd.Flags().IntVar(&opts.minRows, "min-rows", 0, "row count below which the result is flagged, 0 disables the flag (default from config)")
	cmd.Flags().IntVar(&opts.minIDs, "min-ids", 0, "refuse to run with fewer identifiers (0 disables)")
	cmd.MarkFlagsMutuallyExclusive("ids", "id-list")
	cmd.MarkFlagsOneRequired("ids", "id-list")

	return cmd
}

func runEnrich(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	format, err := output.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	ids, err := readIdentifiers(cmd.InOrStdin(), opts)
	if err != nil {
		return err
	}
	if opts.minRows < 0 {
		return fmt.Errorf("--min-rows must be >= 0 (got %d)", opts.minRows)
	}
	if opts.minIDs > 0 && len(ids) < opts.minIDs {
		return fmt.Errorf("need at least %d identifiers, got %d", opts.minIDs, len(ids))
	}

	ctx := cmd.Context()
	d, err := buildDeps(ctx, root.cfg, root.logger)
	if err != nil {
		return err
	}
	defer d.close()

	logger := root.logger
	observer := pipeline.ObserverFuncs{
		Progress: func(f float64) {
			logger.Debug().Float64("progress", f).Msg("Resolve progress")
		},
		Error: func(msg string) {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", msg)
		},
	}

	var runOpts []pipeline.RunOption
	runOpts = append(runOpts, pipeline.WithRunObserver(observer))
	if cmd.Flags().Changed("min-rows") {
		runOpts = append(runOpts, pipeline.WithMinRows(opts.minRows))
	}

	res, err := d.pipeline.Run(ctx, ids, runOpts...)
	if err != nil {
		return err
	}

	w, closeOut, err := openOutput(cmd.OutOrStdout(), opts.out)
	if err != nil {
		return err
	}
	if err := output.Write(w, format, res); err != nil {
		closeOut()
		return err
	}
	if err := closeOut(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}

	if res.BelowThreshold {
		fmt.Fprintf(cmd.ErrOrStderr(),
			"only %d rows found (minimum %d); consider adding more identifiers\n",
			len(res.Rows), res.MinRows)
	}
	logger.Info().
		Int("rows", len(res.Rows)).
		Int("failures", len(res.Failures())).
		Str("out", opts.out).
		Msg("Run finished")
	return nil
}

func readIdentifiers(stdin io.Reader, opts *runOptions) ([]pipeline.Identifier, error) {
	var (
		ids   []pipeline.Identifier
		stats idlist.Stats
		err   error
	)
	switch {
	case opts.idList != "":
		ids, stats, err = idlist.ParseList(opts.idList)
	case opts.idsFile == "-":
		ids, stats, err = idlist.Parse(stdin)
	default:
		f, openErr := os.Open(opts.idsFile)
		if openErr != nil {
			return nil, fmt.Errorf("open identifier list: %w", openErr)
		}
		defer f.Close()
		ids, stats, err = idlist.Parse(f)
	}
	if errors.Is(err, idlist.ErrEmptyInput) {
		return nil, fmt.Errorf("%w (%d lines read, %d skipped)", err, stats.Lines, stats.Skipped)
	}
	return ids, err
}

func openOutput(stdout io.Writer, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	if strings.HasSuffix(path, "/") {
		return nil, nil, fmt.Errorf("output path %q is a directory", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, f.Close, nil
}
