package genome

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// faiEntry is one line of a faidx index: sequence length, byte offset of
// the first base, bases per line and bytes per line (newline included).
type faiEntry struct {
	length    int64
	offset    int64
	lineBases int64
	lineWidth int64
}

// IndexedFasta provides random access to an uncompressed FASTA file
// through its faidx index (<path>.fai, as written by samtools faidx).
// Fetch is safe for concurrent use; reads go through ReadAt.
type IndexedFasta struct {
	file  *os.File
	path  string
	index map[string]faiEntry
}

// OpenFasta opens a FASTA file and its .fai index.
func OpenFasta(path string) (*IndexedFasta, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fasta file: %w", err)
	}

	// Indexed access needs byte offsets, so gzipped input cannot work.
	magic := make([]byte, 2)
	if n, _ := file.Read(magic); n == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		file.Close()
		return nil, fmt.Errorf("fasta file %s is gzip-compressed; indexed access requires an uncompressed FASTA", path)
	}

	index, err := loadFaidx(path + ".fai")
	if err != nil {
		file.Close()
		return nil, err
	}

	return &IndexedFasta{file: file, path: path, index: index}, nil
}

// loadFaidx parses a .fai file into a name-keyed index.
func loadFaidx(path string) (map[string]faiEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("fasta index %s not found; create it with 'samtools faidx'", path)
		}
		return nil, fmt.Errorf("open fasta index: %w", err)
	}
	defer f.Close()

	index := make(map[string]faiEntry)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 5 {
			return nil, fmt.Errorf("fasta index %s line %d: expected 5 columns, found %d", path, line, len(fields))
		}

		var entry faiEntry
		var convErr error
		for i, dst := range []*int64{&entry.length, &entry.offset, &entry.lineBases, &entry.lineWidth} {
			v, err := strconv.ParseInt(fields[i+1], 10, 64)
			if err != nil {
				convErr = fmt.Errorf("fasta index %s line %d: invalid column %d: %w", path, line, i+2, err)
				break
			}
			*dst = v
		}
		if convErr != nil {
			return nil, convErr
		}
		index[fields[0]] = entry
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read fasta index: %w", err)
	}
	if len(index) == 0 {
		return nil, fmt.Errorf("fasta index %s contains no sequences", path)
	}
	return index, nil
}

// lookup finds the index entry for chrom, tolerating a missing or extra
// "chr" prefix between the query and the FASTA naming.
func (f *IndexedFasta) lookup(chrom string) (faiEntry, bool) {
	if e, ok := f.index[chrom]; ok {
		return e, true
	}
	if alt, found := strings.CutPrefix(chrom, "chr"); found {
		if e, ok := f.index[alt]; ok {
			return e, true
		}
	} else if e, ok := f.index["chr"+chrom]; ok {
		return e, true
	}
	return faiEntry{}, false
}

// Chromosomes returns the names present in the index.
func (f *IndexedFasta) Chromosomes() []string {
	names := make([]string, 0, len(f.index))
	for name := range f.index {
		names = append(names, name)
	}
	return names
}

// Fetch returns the uppercased bases of [start, end) on chrom.
func (f *IndexedFasta) Fetch(ctx context.Context, chrom string, start, end int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	entry, ok := f.lookup(chrom)
	if !ok {
		return "", &FetchError{Chrom: chrom, Start: start, End: end,
			Err: fmt.Errorf("chromosome not found in %s", f.path)}
	}
	if start < 0 || end > entry.length || start >= end {
		return "", &FetchError{Chrom: chrom, Start: start, End: end,
			Err: fmt.Errorf("coordinates out of range (chromosome length %d)", entry.length)}
	}

	// Byte offset of the 0-based sequence position p, accounting for
	// line wrapping.
	pos := func(p int64) int64 {
		return entry.offset + (p/entry.lineBases)*entry.lineWidth + p%entry.lineBases
	}

	from := pos(start)
	to := pos(end-1) + 1
	raw := make([]byte, to-from)
	if _, err := f.file.ReadAt(raw, from); err != nil {
		return "", &FetchError{Chrom: chrom, Start: start, End: end,
			Err: fmt.Errorf("read fasta: %w", err)}
	}

	bases := make([]byte, 0, end-start)
	for _, b := range raw {
		if b == '\n' || b == '\r' {
			continue
		}
		bases = append(bases, b)
	}
	if int64(len(bases)) != end-start {
		return "", &FetchError{Chrom: chrom, Start: start, End: end,
			Err: fmt.Errorf("expected %d bases, read %d", end-start, len(bases))}
	}

	return strings.ToUpper(string(bases)), nil
}

// Close closes the FASTA file.
func (f *IndexedFasta) Close() error {
	return f.file.Close()
}
