package genome

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fastaSeq struct {
	name string
	seq  string
}

// writeFasta writes sequences as a line-wrapped FASTA file plus a
// matching .fai index and returns the FASTA path.
func writeFasta(t *testing.T, wrap int, seqs ...fastaSeq) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.fa")

	var fasta strings.Builder
	var fai strings.Builder
	for _, s := range seqs {
		fasta.WriteString(">" + s.name + "\n")
		offset := fasta.Len()
		for i := 0; i < len(s.seq); i += wrap {
			end := i + wrap
			if end > len(s.seq) {
				end = len(s.seq)
			}
			fasta.WriteString(s.seq[i:end])
			fasta.WriteString("\n")
		}
		fmt.Fprintf(&fai, "%s\t%d\t%d\t%d\t%d\n", s.name, len(s.seq), offset, wrap, wrap+1)
	}

	require.NoError(t, os.WriteFile(path, []byte(fasta.String()), 0o644))
	require.NoError(t, os.WriteFile(path+".fai", []byte(fai.String()), 0o644))
	return path
}

// testBases generates a deterministic base pattern of length n.
func testBases(n int) string {
	const alphabet = "ACGTGGCATC"
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(alphabet[i%len(alphabet)])
	}
	return b.String()
}

func TestIndexedFasta_Fetch(t *testing.T) {
	seq := testBases(300)
	path := writeFasta(t, 60, fastaSeq{name: "chr19", seq: seq})

	fa, err := OpenFasta(path)
	require.NoError(t, err)
	defer fa.Close()

	ctx := context.Background()

	// Within one line
	got, err := fa.Fetch(ctx, "chr19", 10, 20)
	require.NoError(t, err)
	assert.Equal(t, seq[10:20], got)

	// Spanning multiple wrapped lines
	got, err = fa.Fetch(ctx, "chr19", 55, 130)
	require.NoError(t, err)
	assert.Equal(t, seq[55:130], got)

	// Whole chromosome
	got, err = fa.Fetch(ctx, "chr19", 0, 300)
	require.NoError(t, err)
	assert.Equal(t, seq, got)

	// Last base
	got, err = fa.Fetch(ctx, "chr19", 299, 300)
	require.NoError(t, err)
	assert.Equal(t, seq[299:], got)
}

func TestIndexedFasta_UppercasesSoftMasked(t *testing.T) {
	path := writeFasta(t, 10, fastaSeq{name: "chrTest", seq: "acgtACGTacgtACGT"})

	fa, err := OpenFasta(path)
	require.NoError(t, err)
	defer fa.Close()

	got, err := fa.Fetch(context.Background(), "chrTest", 0, 16)
	require.NoError(t, err)
	assert.Equal(t, "ACGTACGTACGTACGT", got)
}

func TestIndexedFasta_ChromPrefixTolerance(t *testing.T) {
	// Ensembl-style naming in the FASTA, "chr"-prefixed query
	path := writeFasta(t, 60, fastaSeq{name: "19", seq: testBases(100)})

	fa, err := OpenFasta(path)
	require.NoError(t, err)
	defer fa.Close()

	got, err := fa.Fetch(context.Background(), "chr19", 0, 10)
	require.NoError(t, err)
	assert.Len(t, got, 10)

	// And the reverse
	path = writeFasta(t, 60, fastaSeq{name: "chr19", seq: testBases(100)})
	fa2, err := OpenFasta(path)
	require.NoError(t, err)
	defer fa2.Close()

	got, err = fa2.Fetch(context.Background(), "19", 0, 10)
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func TestIndexedFasta_UnknownChromosome(t *testing.T) {
	path := writeFasta(t, 60, fastaSeq{name: "chr19", seq: testBases(100)})

	fa, err := OpenFasta(path)
	require.NoError(t, err)
	defer fa.Close()

	_, err = fa.Fetch(context.Background(), "chr7", 0, 10)
	require.Error(t, err)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "chr7", fetchErr.Chrom)
}

func TestIndexedFasta_OutOfRange(t *testing.T) {
	path := writeFasta(t, 60, fastaSeq{name: "chr19", seq: testBases(100)})

	fa, err := OpenFasta(path)
	require.NoError(t, err)
	defer fa.Close()

	ctx := context.Background()
	var fetchErr *FetchError

	// Past the chromosome end
	_, err = fa.Fetch(ctx, "chr19", 50, 150)
	require.ErrorAs(t, err, &fetchErr)

	// Negative start
	_, err = fa.Fetch(ctx, "chr19", -10, 50)
	require.ErrorAs(t, err, &fetchErr)

	// Empty interval
	_, err = fa.Fetch(ctx, "chr19", 50, 50)
	require.ErrorAs(t, err, &fetchErr)
}

func TestIndexedFasta_MultipleChromosomes(t *testing.T) {
	seq1 := testBases(150)
	seq2 := strings.Repeat("GATTACA", 20)
	path := writeFasta(t, 60,
		fastaSeq{name: "chr1", seq: seq1},
		fastaSeq{name: "chr2", seq: seq2})

	fa, err := OpenFasta(path)
	require.NoError(t, err)
	defer fa.Close()

	got, err := fa.Fetch(context.Background(), "chr2", 0, 7)
	require.NoError(t, err)
	assert.Equal(t, "GATTACA", got)

	got, err = fa.Fetch(context.Background(), "chr1", 100, 150)
	require.NoError(t, err)
	assert.Equal(t, seq1[100:150], got)

	assert.ElementsMatch(t, []string{"chr1", "chr2"}, fa.Chromosomes())
}

func TestOpenFasta_MissingIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noindex.fa")
	require.NoError(t, os.WriteFile(path, []byte(">chr1\nACGT\n"), 0o644))

	_, err := OpenFasta(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "samtools faidx")
}

func TestOpenFasta_RejectsGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.fa.gz")
	// Just the gzip magic, enough to be detected
	require.NoError(t, os.WriteFile(path, []byte{0x1f, 0x8b, 0x08, 0x00}, 0o644))

	_, err := OpenFasta(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uncompressed")
}
