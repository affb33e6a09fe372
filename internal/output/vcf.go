// Package output renders pipeline results: the control VCF, the
// in-place progress line and the final statistics block.
package output

import (
	"bufio"
	"fmt"
	"io"

	"github.com/seqfold/snpbatch/internal/batch"
	"github.com/seqfold/snpbatch/internal/snp"
)

// ControlVCFWriter writes processed variants and their negative
// controls as VCF records. Main variants carry TYPE=SNP with the
// non-effect allele as REF; controls carry TYPE=CONTROL with the
// observed reference base as REF and both alleles as ALT.
type ControlVCFWriter struct {
	w *bufio.Writer
}

// NewControlVCFWriter creates a writer on w. Call WriteHeader before
// the first record and Flush after the last.
func NewControlVCFWriter(w io.Writer) *ControlVCFWriter {
	return &ControlVCFWriter{w: bufio.NewWriter(w)}
}

// WriteHeader writes the VCF meta lines and the column header.
func (cw *ControlVCFWriter) WriteHeader() error {
	header := "##fileformat=VCFv4.2\n" +
		"##source=snpbatch\n" +
		"##INFO=<ID=TYPE,Number=1,Type=String,Description=\"SNP or CONTROL\">\n" +
		"##INFO=<ID=ORIGINAL_SNP,Number=1,Type=String,Description=\"Original SNP ID for controls\">\n" +
		"##INFO=<ID=REF_ALLELE,Number=1,Type=String,Description=\"Reference allele at this position\">\n" +
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n"
	_, err := cw.w.WriteString(header)
	return err
}

// WriteVariant writes the record for a processed main variant. Which
// allele is the true reference is not established here, so REF holds
// the non-effect allele and ALT the effect allele.
func (cw *ControlVCFWriter) WriteVariant(rec *snp.Record) error {
	_, err := fmt.Fprintf(cw.w, "%s\t%d\t%s\t%s\t%s\t.\t.\tTYPE=SNP\n",
		rec.Chrom, rec.Pos, rec.ID, rec.NonEffect, rec.Effect)
	return err
}

// WriteControl writes the record for a processed negative control. REF
// is the base actually observed at the shifted position; both alleles
// go to ALT since neither is expected to match there.
func (cw *ControlVCFWriter) WriteControl(ctrl *batch.ControlRecord) error {
	_, err := fmt.Fprintf(cw.w, "%s\t%d\t%s\t%s\t%s,%s\t.\t.\tTYPE=CONTROL;ORIGINAL_SNP=%s;REF_ALLELE=%s\n",
		ctrl.Chrom, ctrl.Pos, ctrl.ID(), ctrl.RefBase, ctrl.Effect, ctrl.NonEffect,
		ctrl.OriginalID, ctrl.RefBase)
	return err
}

// Flush writes any buffered records through to the destination.
func (cw *ControlVCFWriter) Flush() error {
	return cw.w.Flush()
}
