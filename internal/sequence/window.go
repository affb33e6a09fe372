// Package sequence derives fixed-length genomic windows around variants
// and builds the allele-substituted sequence pair fed to the model.
package sequence

// DefaultLength is the model input window size in bases.
const DefaultLength = 196608

// Window is a fixed-length genomic interval in 0-based half-open
// coordinates, centered on a variant position (plus any control offset).
type Window struct {
	Genome string
	Chrom  string
	Start  int64
	End    int64
}

// Length returns End - Start.
func (w Window) Length() int64 {
	return w.End - w.Start
}

// WindowAround centers a window of the given length on center. The
// length must be even so the center base sits at index length/2; the
// Builder validates that once at construction.
func WindowAround(genomeBuild, chrom string, center, length int64) Window {
	half := length / 2
	return Window{
		Genome: genomeBuild,
		Chrom:  chrom,
		Start:  center - half,
		End:    center + half,
	}
}
