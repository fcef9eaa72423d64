// Package variantcontext implements the Variant Context value type and
// the Variant Context Registry: construction, containment tests,
// statistics and the varcon.txt/varconstats.txt serialization formats.
package variantcontext

import (
	"math"
	"sort"

	vread "github.com/grailbio/bio/vase/read"
)

// VariantType classifies a variant by its allele lengths, which
// determines the read search window (Context Builder §4.2).
type VariantType int

const (
	SNP VariantType = iota
	Indel
)

// Classify returns SNP when ref and every alt allele are exactly one
// base, Indel otherwise. Alleles are assumed already upper-cased; a '*'
// spanning-deletion placeholder is one character long, so it never
// makes a variant an Indel on its own.
func Classify(ref string, alts []string) VariantType {
	if len(ref) != 1 {
		return Indel
	}
	for _, a := range alts {
		if len(a) != 1 {
			return Indel
		}
	}
	return SNP
}

// MaxAlleleLen returns the longest of ref and the alt alleles, used to
// size the indel read-search window.
func MaxAlleleLen(ref string, alts []string) int {
	max := len(ref)
	for _, a := range alts {
		if len(a) > max {
			max = len(a)
		}
	}
	return max
}

// Context is a single Variant Context: the acceptor and donor reads
// gathered around one donor variant, plus the bookkeeping needed to
// reproduce varcon.txt exactly.
//
// Start and End are inclusive genomic bounds (unlike genome.Overlap,
// which is half-open): they are the min read start and max read end
// observed while building the context, following the original
// VaSeBuilder's determineContext/determineLargestContext convention.
// Origin, Start and End all share one 1-based coordinate space (the
// raw VCF POS convention); AlignedRead positions are 0-based, matching
// BAM/pysam, and are converted when folded into Start/End.
type Context struct {
	ID       string
	SampleID string
	Chrom    string
	Origin   int
	Start    int
	End      int

	AcceptorReads []vread.Aligned
	DonorReads    []vread.Aligned

	// HasAcceptorContext/HasDonorContext are false when no reads were
	// retrieved on that side.
	HasAcceptorContext bool
	HasDonorContext    bool
	AcceptorStart      int
	AcceptorEnd        int
	DonorStart         int
	DonorEnd           int

	UnmappedAcceptorMateIDs []string
	UnmappedDonorMateIDs    []string
}

// AcceptorContextLength returns End-Start+1 of the acceptor-only
// sub-interval, or 0 when no acceptor reads were found.
func (c *Context) AcceptorContextLength() int {
	if !c.HasAcceptorContext {
		return 0
	}
	return c.AcceptorEnd - c.AcceptorStart + 1
}

// DonorContextLength mirrors AcceptorContextLength for the donor side.
func (c *Context) DonorContextLength() int {
	if !c.HasDonorContext {
		return 0
	}
	return c.DonorEnd - c.DonorStart + 1
}

// ADRatio is len(acceptor reads)/len(donor reads), or NaN when there
// are no donor reads (serialized as "N/A", per to_string()'s handling
// of a nil acceptor-read list).
func (c *Context) ADRatio() float64 {
	if len(c.DonorReads) == 0 {
		return math.NaN()
	}
	return float64(len(c.AcceptorReads)) / float64(len(c.DonorReads))
}

// AcceptorReadIDs returns the acceptor read ids, each suffixed by /1
// or /2, sorted for deterministic serialization.
func (c *Context) AcceptorReadIDs() []string { return sortedPairIDs(c.AcceptorReads) }

// DonorReadIDs mirrors AcceptorReadIDs for the donor side.
func (c *Context) DonorReadIDs() []string { return sortedPairIDs(c.DonorReads) }

func sortedPairIDs(reads []vread.Aligned) []string {
	ids := make([]string, len(reads))
	for i, r := range reads {
		suffix := "/1"
		if r.IsRead2() {
			suffix = "/2"
		}
		ids[i] = r.ID + suffix
	}
	sort.Strings(ids)
	return ids
}

// AcceptorIDSet returns the bare (no /1,/2 suffix) read ids present on
// the acceptor side, for use as the FASTQ substitution writer's
// skip-set.
func (c *Context) AcceptorIDSet() map[string]bool {
	set := make(map[string]bool, len(c.AcceptorReads))
	for _, r := range c.AcceptorReads {
		set[r.ID] = true
	}
	return set
}

// ContainsSNP reports whether a SNP at chrom:pos (1-based, matching
// Start/End and Origin) falls inside this context, per the original's
// single-point test.
func (c *Context) ContainsSNP(chrom string, pos int) bool {
	return chrom == c.Chrom && pos >= c.Start && pos <= c.End
}

// ContainsIndel reports whether an indel window [pos, pos+alleleLen]
// (1-based, matching Start/End, both ends inclusive) overlaps this
// context's closed interval [Start, End], so a window whose end only
// touches Start counts as overlapping. The three sub-cases named by the
// original (left-boundary overlap, right-boundary overlap, full
// containment of one interval by the other) are exactly the general
// closed-interval overlap test; it is applied directly here rather than
// spelled out case by case.
func (c *Context) ContainsIndel(chrom string, pos, alleleLen int) bool {
	if chrom != c.Chrom {
		return false
	}
	variantEnd := pos + alleleLen
	return pos <= c.End && variantEnd >= c.Start
}

// Stats holds the mean/median summary for one side (acceptor or
// donor) of a context, matching VariantContext.to_statistics_string.
type Stats struct {
	AvgLen   float64
	MedLen   float64
	AvgQual  float64
	MedQual  float64
	AvgMapQ  float64
	MedMapQ  float64
}

// ComputeStats summarizes read length, mean-per-read Phred quality,
// and mapping quality across reads.
func ComputeStats(reads []vread.Aligned) Stats {
	if len(reads) == 0 {
		return Stats{}
	}
	lens := make([]float64, len(reads))
	quals := make([]float64, len(reads))
	mapqs := make([]float64, len(reads))
	for i, r := range reads {
		lens[i] = float64(len(r.Sequence))
		quals[i] = meanPhred(r.Quality)
		mapqs[i] = float64(r.MapQ)
	}
	return Stats{
		AvgLen:  mean(lens),
		MedLen:  median(lens),
		AvgQual: mean(quals),
		MedQual: median(quals),
		AvgMapQ: mean(mapqs),
		MedMapQ: median(mapqs),
	}
}

func meanPhred(qual string) float64 {
	if qual == "" {
		return 0
	}
	total := 0
	for _, c := range []byte(qual) {
		total += int(c) - 33
	}
	return float64(total) / float64(len(qual))
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sorted := append([]float64(nil), v...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
