package snp

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Minimum number of whitespace-separated columns per data row:
// chromosome, position, marker name, effect allele, non-effect allele,
// beta, standard error, p-value. Rows with fewer columns are skipped.
const minColumns = 8

// Reader reads SNP records from a whitespace-separated summary-statistics
// file (Kunkle layout). The first line is a header and is not parsed.
// Supports both plain and gzipped (.gz) input.
type Reader struct {
	reader     *bufio.Reader
	file       *os.File
	gzipReader *gzip.Reader
	lineNumber int
	headerLine string
}

// NewReader creates a reader for the given file path.
func NewReader(path string) (*Reader, error) {
	if path == "-" {
		return NewReaderFrom(os.Stdin)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snp file: %w", err)
	}

	r := &Reader{file: file}

	// Check for gzip magic bytes. A file shorter than the magic is
	// handed to the header check as-is.
	buf := make([]byte, 2)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF {
		file.Close()
		return nil, fmt.Errorf("read snp file: %w", err)
	}

	_, err = file.Seek(0, 0)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("seek snp file: %w", err)
	}

	// Gzip magic number (0x1f, 0x8b)
	if n == 2 && buf[0] == 0x1f && buf[1] == 0x8b {
		r.gzipReader, err = gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		r.reader = bufio.NewReader(r.gzipReader)
	} else {
		r.reader = bufio.NewReader(file)
	}

	if err := r.readHeader(); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

// NewReaderFrom creates a reader from an io.Reader (e.g. stdin).
func NewReaderFrom(rd io.Reader) (*Reader, error) {
	r := &Reader{reader: bufio.NewReader(rd)}

	if err := r.readHeader(); err != nil {
		return nil, err
	}

	return r, nil
}

// readHeader consumes the single header line.
func (r *Reader) readHeader() error {
	line, err := r.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("read header: %w", err)
	}
	if line == "" {
		return &ParseError{Line: r.lineNumber, Message: "no header line found"}
	}
	r.lineNumber++
	r.headerLine = strings.TrimRight(line, "\r\n")
	return nil
}

// Next reads the next record. Returns nil, nil when there are no more
// records. Rows with fewer than eight columns are skipped.
func (r *Reader) Next() (*Record, error) {
	for {
		line, err := r.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("read snp line: %w", err)
		}
		if line == "" && err == io.EOF {
			return nil, nil
		}
		r.lineNumber++

		fields := strings.Fields(line)
		if len(fields) < minColumns {
			if err == io.EOF {
				return nil, nil
			}
			continue
		}

		return r.parseFields(fields)
	}
}

func (r *Reader) parseFields(fields []string) (*Record, error) {
	pos, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, &ParseError{
			Line:    r.lineNumber,
			Message: fmt.Sprintf("invalid position: %s", fields[1]),
		}
	}
	if pos <= 0 {
		return nil, &ParseError{
			Line:    r.lineNumber,
			Message: fmt.Sprintf("position must be positive, got %d", pos),
		}
	}

	return &Record{
		Chrom:     fields[0],
		Pos:       pos,
		ID:        fields[2],
		Effect:    strings.ToUpper(fields[3]),
		NonEffect: strings.ToUpper(fields[4]),
		Beta:      fields[5],
		SE:        fields[6],
		P:         fields[7],
	}, nil
}

// Header returns the header line.
func (r *Reader) Header() string {
	return r.headerLine
}

// LineNumber returns the current line number being processed.
func (r *Reader) LineNumber() int {
	return r.lineNumber
}

// Close closes the reader and underlying file.
func (r *Reader) Close() error {
	if r.gzipReader != nil {
		r.gzipReader.Close()
	}
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// ReadAll reads every record from the file at path.
func ReadAll(path string) ([]*Record, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var records []*Record
	for {
		rec, err := r.Next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		records = append(records, rec)
	}
	return records, nil
}

// ParseError represents an error during summary-statistics parsing with
// line context.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("snp parse error at line %d: %s", e.Line, e.Message)
}
