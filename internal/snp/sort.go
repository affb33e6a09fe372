package snp

import (
	"bufio"
	"fmt"
	"io"
	"sort"
)

// Header is the canonical column header written by WriteRecords.
const Header = "Chromosome Position MarkerName Effect_allele Non_Effect_allele Beta SE Pvalue"

// SortByPvalue orders records by ascending p-value, most significant
// first. Records with unparseable p-values sort last. The sort is
// stable so ties keep their input order.
func SortByPvalue(records []*Record) {
	type keyed struct {
		p   float64
		rec *Record
	}
	tmp := make([]keyed, len(records))
	for i, r := range records {
		tmp[i] = keyed{p: r.Pvalue(), rec: r}
	}
	sort.SliceStable(tmp, func(i, j int) bool {
		return tmp[i].p < tmp[j].p
	})
	for i := range tmp {
		records[i] = tmp[i].rec
	}
}

// WriteRecords writes records in the canonical space-separated layout,
// header line first.
func WriteRecords(w io.Writer, records []*Record) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		_, err := fmt.Fprintf(bw, "%s %d %s %s %s %s %s %s\n",
			r.Chrom, r.Pos, r.ID, r.Effect, r.NonEffect, r.Beta, r.SE, r.P)
		if err != nil {
			return fmt.Errorf("write record %s: %w", r.ID, err)
		}
	}
	return bw.Flush()
}
