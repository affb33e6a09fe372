package output

import (
	"fmt"
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/seqfold/snpbatch/internal/batch"
)

const reportRule = "======================================================================"

// thousands formats counts with separators, matching the run sizes this
// tool is pointed at.
var thousands = message.NewPrinter(language.English)

// WriteReport prints the final statistics block for one run. controls
// gates the negative-control section; vcfPath names the control VCF
// when one was written.
func WriteReport(w io.Writer, rep *batch.Report, controls bool, vcfPath string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, reportRule)
	fmt.Fprintln(w, "FINAL STATISTICS")
	fmt.Fprintln(w, reportRule)
	if rep.Interrupted {
		thousands.Fprintf(w, "Interrupted after:              %d of %d SNPs\n", rep.Processed, rep.Total)
	}
	thousands.Fprintf(w, "Total SNPs:                     %d\n", rep.Total)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Main SNPs:")
	thousands.Fprintf(w, "  Newly computed:               %d (ran model)\n", rep.Stats.Computed)
	thousands.Fprintf(w, "  Loaded from cache:            %d (already computed)\n", rep.Stats.Cached)
	thousands.Fprintf(w, "  Failed:                       %d\n", rep.Stats.Failed)
	if rep.Stats.RefMismatches > 0 {
		thousands.Fprintf(w, "  Reference mismatches:         %d\n", rep.Stats.RefMismatches)
	}

	if controls {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Negative Controls:")
		thousands.Fprintf(w, "  Newly computed:               %d\n", rep.Stats.ControlsComputed)
		thousands.Fprintf(w, "  Loaded from cache:            %d\n", rep.Stats.ControlsCached)
		thousands.Fprintf(w, "  Failed:                       %d\n", rep.Stats.ControlsFailed)
		if vcfPath != "" {
			fmt.Fprintln(w)
			fmt.Fprintf(w, "Control VCF output:             %s\n", vcfPath)
		}
	}

	elapsed := rep.Elapsed.Seconds()
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total time:                     %.1f seconds (%.1f minutes)\n", elapsed, elapsed/60)

	successful := rep.Stats.Computed + rep.Stats.Cached
	if successful > 0 && elapsed > 0 {
		fmt.Fprintf(w, "Overall SNP rate:               %.2f SNPs/second\n", float64(successful)/elapsed)
	}
	if rep.Stats.Computed > 0 && elapsed > 0 {
		fmt.Fprintf(w, "New computation rate:           %.2f SNPs/second\n", float64(rep.Stats.Computed)/elapsed)
		fmt.Fprintf(w, "Time per new SNP:               %.2f seconds\n", elapsed/float64(rep.Stats.Computed))
	}

	if controls {
		totalControls := rep.Stats.ControlsComputed + rep.Stats.ControlsCached
		if totalControls > 0 {
			thousands.Fprintf(w, "Total controls processed:       %d\n", totalControls)
		}
	}

	fmt.Fprintln(w, reportRule)
}
