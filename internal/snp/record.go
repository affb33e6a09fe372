// Package snp provides SNP records and GWAS summary-statistics file parsing.
package snp

import (
	"math"
	"strconv"
)

// Record is a single variant row from a GWAS summary-statistics file.
// Positions are 1-based. Alleles are uppercased at parse time.
type Record struct {
	Chrom     string // chromosome, with or without "chr" prefix
	Pos       int64  // 1-based position
	ID        string // marker name, e.g. rs429358
	Effect    string // effect allele
	NonEffect string // non-effect allele
	Beta      string // effect size, kept verbatim
	SE        string // standard error, kept verbatim
	P         string // association p-value, kept verbatim
}

// IsIndel reports whether either allele is longer than a single base.
func (r *Record) IsIndel() bool {
	return len(r.Effect) > 1 || len(r.NonEffect) > 1
}

// Pvalue parses the p-value column. Unparseable values return +Inf so
// they order after any real p-value.
func (r *Record) Pvalue() float64 {
	p, err := strconv.ParseFloat(r.P, 64)
	if err != nil || math.IsNaN(p) {
		return math.Inf(1)
	}
	return p
}
