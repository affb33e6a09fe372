package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seqfold/snpbatch/internal/snp"
)

func newSortCmd() *cobra.Command {
	var (
		outputPath string
		top        int
	)

	cmd := &cobra.Command{
		Use:   "sort <snp-file>",
		Short: "Sort a SNP list by p-value",
		Long: `Sort reads a GWAS summary-statistics file and writes it back in
ascending p-value order, so the strongest associations can be processed
first. Records whose p-value does not parse sort last.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exitCode = runSort(args[0], outputPath, top)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().IntVar(&top, "top", 0, "Keep only the N most significant SNPs (default: all)")

	return cmd
}

func runSort(snpFile, outputPath string, top int) int {
	records, err := snp.ReadAll(snpFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}

	snp.SortByPvalue(records)
	if top > 0 && top < len(records) {
		records = records[:top]
	}

	out := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitError
		}
		defer f.Close()
		out = f
	}

	if err := snp.WriteRecords(out, records); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}
	if outputPath != "" {
		thousands.Fprintf(os.Stderr, "Wrote %d SNPs to %s\n", len(records), outputPath)
	}
	return ExitSuccess
}
