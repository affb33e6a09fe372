package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/seqfold/snpbatch/internal/batch"
	"github.com/seqfold/snpbatch/internal/cache"
	"github.com/seqfold/snpbatch/internal/duckdb"
	"github.com/seqfold/snpbatch/internal/genome"
	"github.com/seqfold/snpbatch/internal/output"
	"github.com/seqfold/snpbatch/internal/predict"
	"github.com/seqfold/snpbatch/internal/sequence"
	"github.com/seqfold/snpbatch/internal/snp"
)

const rule = "======================================================================"

var thousands = message.NewPrinter(language.English)

// knownRemoteBuilds are the assemblies the public sequence API serves.
// Other builds need a local FASTA.
var knownRemoteBuilds = map[string]bool{
	"hg19": true,
	"hg38": true,
}

type runOptions struct {
	limit         int
	skip          int
	workers       int
	genomeBuild   string
	windowLength  int64
	filterIndels  bool
	resume        bool
	controlOffset int64
	progressEvery int
	cacheDir      string
	fastaPath     string
	modelURL      string
	vcfPath       string
	resultsDB     string
	verbose       bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <snp-file>",
		Short: "Run model predictions for a SNP list",
		Long: `Run builds the model input window around every SNP in a GWAS
summary-statistics file, substitutes each allele and resolves both
sequences through the prediction cache, calling the model service only
for sequences never seen before. With --negative-control N a shifted
copy of each SNP is processed as well and a VCF of controls is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exitCode = runBatch(args[0], opts)
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Number of SNPs to process (default: all)")
	cmd.Flags().IntVarP(&opts.skip, "skip", "s", 0, "Skip first N SNPs")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Workers for sequence retrieval (default: CPU count - 2)")
	cmd.Flags().StringVar(&opts.genomeBuild, "genome", "hg19", "Genome assembly")
	cmd.Flags().Int64Var(&opts.windowLength, "length", sequence.DefaultLength, "Model input window length in bp")
	cmd.Flags().BoolVar(&opts.filterIndels, "filter-indels", false, "Skip insertions/deletions")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "Skip already cached results")
	cmd.Flags().Int64Var(&opts.controlOffset, "negative-control", 0, "Add negative control at position +N bp (0: disabled)")
	cmd.Flags().IntVar(&opts.progressEvery, "progress-every", 100, "Update progress every N SNPs")
	cmd.Flags().StringVar(&opts.cacheDir, "cache-dir", "", "Cache directory (default: cache.dir config key, else ~/.snpbatch/cache)")
	cmd.Flags().StringVar(&opts.fastaPath, "fasta", "", "Indexed FASTA for the build (default: genomes.<build> config key, else remote API)")
	cmd.Flags().StringVar(&opts.modelURL, "model-url", "", "Prediction service URL (default: model.url config key)")
	cmd.Flags().StringVar(&opts.vcfPath, "vcf", "", "Control VCF output path (default: controls_<input>.vcf)")
	cmd.Flags().StringVar(&opts.resultsDB, "results-db", "", "Record every processed unit in this DuckDB ledger")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "Log per-variant diagnostics")

	return cmd
}

func runBatch(snpFile string, opts runOptions) int {
	logger := newLogger(opts.verbose)
	defer logger.Sync()

	if opts.skip < 0 || opts.limit < 0 {
		fmt.Fprintln(os.Stderr, "Error: --skip and --limit must not be negative")
		return ExitError
	}

	modelURL := opts.modelURL
	if modelURL == "" {
		modelURL = viper.GetString("model.url")
	}
	if modelURL == "" {
		fmt.Fprintln(os.Stderr, "Error: no prediction service configured")
		fmt.Fprintln(os.Stderr, "Set one with 'snpbatch config set model.url http://host:port/predict' or pass --model-url")
		return ExitError
	}

	cacheDir := opts.cacheDir
	if cacheDir == "" {
		cacheDir = defaultCacheDir()
	}
	dnaStore, err := cache.NewStore(filepath.Join(cacheDir, "dna"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}
	modelStore, err := cache.NewStore(filepath.Join(cacheDir, "model"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}

	src, closer, err := resolveSource(opts.genomeBuild, opts.fastaPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}
	if closer != nil {
		defer closer.Close()
	}

	cachingSrc := genome.NewCachingSource(src, dnaStore, opts.genomeBuild)
	cachingSrc.SetLogger(logger)

	builder, err := sequence.NewBuilder(cachingSrc, opts.genomeBuild, opts.windowLength)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}
	builder.SetLogger(logger)

	runner := predict.NewRunner(predict.NewHTTPPredictor(modelURL), modelStore)
	runner.SetLogger(logger)

	printRunBanner(snpFile, opts, cacheDir, modelURL)

	ctrl := batch.NewController(builder, runner, batch.Config{
		Skip:          opts.skip,
		Limit:         opts.limit,
		Workers:       opts.workers,
		FilterIndels:  opts.filterIndels,
		Resume:        opts.resume,
		ControlOffset: opts.controlOffset,
	})
	ctrl.SetLogger(logger)

	// The control VCF exists only when controls are requested.
	vcfPath := ""
	var vcfWriter *output.ControlVCFWriter
	if opts.controlOffset != 0 {
		vcfPath = opts.vcfPath
		if vcfPath == "" {
			stem := strings.TrimSuffix(filepath.Base(snpFile), filepath.Ext(snpFile))
			vcfPath = fmt.Sprintf("controls_%s.vcf", stem)
		}
		vcfFile, err := os.Create(vcfPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: create control VCF: %v\n", err)
			return ExitError
		}
		defer vcfFile.Close()

		vcfWriter = output.NewControlVCFWriter(vcfFile)
		if err := vcfWriter.WriteHeader(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: write control VCF header: %v\n", err)
			return ExitError
		}
		ctrl.SetRecordWriter(vcfWriter)

		fmt.Printf("Control VCF output: %s\n\n", vcfPath)
	}

	if opts.resultsDB != "" {
		ledger, err := duckdb.Open(opts.resultsDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitError
		}
		defer ledger.Close()

		err = ledger.BeginRun(duckdb.RunInfo{
			Input:         snpFile,
			Genome:        opts.genomeBuild,
			WindowLength:  opts.windowLength,
			ControlOffset: opts.controlOffset,
			Resume:        opts.resume,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitError
		}
		ctrl.SetRecorder(ledger)
	}

	fmt.Println("Loading SNPs...")
	records, err := snp.ReadAll(snpFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}
	thousands.Printf("Total SNPs loaded: %d\n\n", len(records))

	renderer := output.NewProgressRenderer(os.Stderr, opts.progressEvery)
	ctrl.SetObserver(renderer.Observe)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := ctrl.Process(ctx, records)
	renderer.Finish()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}
	if vcfWriter != nil {
		if err := vcfWriter.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: flush control VCF: %v\n", err)
			return ExitError
		}
	}
	if report.Interrupted {
		fmt.Fprintln(os.Stderr, "\nInterrupted. Partial results follow; rerun with --resume to continue.")
	}

	output.WriteReport(os.Stdout, report, opts.controlOffset != 0, vcfPath)
	return ExitSuccess
}

// resolveSource picks the genome source: an explicit FASTA, then the
// configured FASTA for the build, then the public sequence API.
func resolveSource(build, fastaPath string) (genome.Source, io.Closer, error) {
	if fastaPath == "" {
		fastaPath = viper.GetString("genomes." + build)
	}
	if fastaPath != "" {
		fa, err := genome.OpenFasta(fastaPath)
		if err != nil {
			return nil, nil, err
		}
		return fa, fa, nil
	}
	if !knownRemoteBuilds[build] {
		return nil, nil, fmt.Errorf(
			"unknown genome build %q: configure a FASTA with 'snpbatch config set genomes.%s /path/to/%s.fa'",
			build, build, build)
	}
	return genome.NewRESTSource(genome.DefaultSequenceAPI, build), nil, nil
}

func printRunBanner(snpFile string, opts runOptions, cacheDir, modelURL string) {
	limit := "all"
	if opts.limit > 0 {
		limit = fmt.Sprintf("%d", opts.limit)
	}
	workers := fmt.Sprintf("%d", batch.DefaultWorkers())
	if opts.workers > 0 {
		workers = fmt.Sprintf("%d", opts.workers)
	}

	fmt.Println(rule)
	fmt.Printf("SNP file:             %s\n", snpFile)
	fmt.Printf("Number of SNPs:       %s\n", limit)
	fmt.Printf("Skip:                 %d\n", opts.skip)
	fmt.Printf("Genome:               %s\n", opts.genomeBuild)
	fmt.Printf("Window length:        %d bp\n", opts.windowLength)
	fmt.Printf("Sequence workers:     %s\n", workers)
	fmt.Printf("Filter indels:        %t\n", opts.filterIndels)
	fmt.Printf("Resume mode:          %t\n", opts.resume)
	if opts.controlOffset != 0 {
		fmt.Printf("Negative control:     %+d bp\n", opts.controlOffset)
	} else {
		fmt.Printf("Negative control:     disabled\n")
	}
	fmt.Printf("Cache directory:      %s\n", cacheDir)
	fmt.Printf("Model service:        %s\n", modelURL)
	fmt.Println(rule)
	fmt.Println()
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
