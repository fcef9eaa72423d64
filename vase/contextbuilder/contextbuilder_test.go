package contextbuilder

import (
	"strings"
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/stretchr/testify/require"

	vread "github.com/grailbio/bio/vase/read"
	"github.com/grailbio/bio/vase/variantcontext"
	"github.com/grailbio/bio/vase/vcfio"
)

// fakeReader is an in-memory Reader over a fixed slice of records on
// one chromosome, standing in for a real indexed BAM in end-to-end
// Build tests.
type fakeReader struct {
	chrom   string
	records []*sam.Record
}

func (f *fakeReader) HasReference(chrom string) bool { return chrom == f.chrom }

func (f *fakeReader) Fetch(chrom string, start, end int) ([]*sam.Record, error) {
	if chrom != f.chrom {
		return nil, nil
	}
	var out []*sam.Record
	for _, r := range f.records {
		if r.Pos < end && r.End() > start {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReader) FetchMate(rec *sam.Record) (*sam.Record, bool, error) {
	if rec.Flags&sam.MateUnmapped != 0 {
		return nil, false, nil
	}
	wantRead1 := rec.Flags&sam.Read2 != 0
	for _, r := range f.records {
		if r.Name != rec.Name {
			continue
		}
		if (r.Flags&sam.Read1 != 0) != wantRead1 {
			continue
		}
		return r, true, nil
	}
	return nil, false, nil
}

// newFakeRecord builds a minimal paired-end sam.Record: name, 0-based
// pos, a simple ungapped cigar of the sequence's length, and the
// Paired/Read1-or-2/mate-coordinate bookkeeping FetchMate/dedup need.
func newFakeRecord(t *testing.T, ref *sam.Reference, name string, pos int, flags sam.Flags, matePos int, seq string) *sam.Record {
	t.Helper()
	qual := make([]byte, len(seq))
	for i := range qual {
		qual[i] = 30
	}
	cigar := []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, len(seq))}
	mateRef, mPos := ref, matePos
	if flags&sam.MateUnmapped != 0 {
		mateRef, mPos = nil, -1
	}
	r, err := sam.NewRecord(name, ref, mateRef, pos, mPos, 0, 60, cigar, []byte(seq), qual, nil)
	require.NoError(t, err)
	r.Flags = flags | sam.Paired
	return r
}

// newFakeRef builds a Reference and registers it with a throwaway Header
// so it carries a valid id, as sam.NewRecord requires.
func newFakeRef(t *testing.T, chrom string) *sam.Reference {
	t.Helper()
	ref, err := sam.NewReference(chrom, "", "", 1000000, nil, nil)
	require.NoError(t, err)
	_, err = sam.NewHeader(nil, []*sam.Reference{ref})
	require.NoError(t, err)
	return ref
}

// pair builds one proper forward/reverse read pair starting at
// fwdPos/revPos, each reslen bases long, fully mated.
func pair(t *testing.T, ref *sam.Reference, name string, fwdPos, revPos, readLen int) (*sam.Record, *sam.Record) {
	t.Helper()
	fwd := newFakeRecord(t, ref, name, fwdPos, sam.Read1|sam.ProperPair, revPos, strings.Repeat("A", readLen))
	rev := newFakeRecord(t, ref, name, revPos, sam.Read2|sam.ProperPair|sam.Reverse, fwdPos, strings.Repeat("T", readLen))
	return fwd, rev
}

func TestSearchWindowSNP(t *testing.T) {
	rec := vcfio.Record{Chrom: "chr1", Pos: 100, Ref: "A", Alts: []string{"G"}}
	start, end := searchWindow(rec)
	require.Equal(t, 99, start)
	require.Equal(t, 101, end)
}

func TestSearchWindowIndel(t *testing.T) {
	rec := vcfio.Record{Chrom: "chr1", Pos: 100, Ref: "ATG", Alts: []string{"A"}}
	start, end := searchWindow(rec)
	require.Equal(t, 100, start)
	require.Equal(t, 103, end)
}

func TestSpanOfEmpty(t *testing.T) {
	_, _, ok := spanOf(nil)
	require.False(t, ok)
}

func TestSpanOfMultipleReads(t *testing.T) {
	reads := []vread.Aligned{
		{ID: "r1", Pos: 100, End: 150},
		{ID: "r2", Pos: 90, End: 140},
		{ID: "r3", Pos: 110, End: 160},
	}
	start, end, ok := spanOf(reads)
	require.True(t, ok)
	require.Equal(t, 90, start)
	require.Equal(t, 159, end) // End is exclusive, bounds are inclusive
}

func TestLargestSpanWidensToReadContext(t *testing.T) {
	ctx := &variantcontext.Context{
		HasAcceptorContext: true,
		AcceptorStart:      80,
		AcceptorEnd:        120,
		HasDonorContext:    true,
		DonorStart:         90,
		DonorEnd:           200,
	}
	start, end := largestSpan(100, ctx)
	require.Equal(t, 80, start)
	require.Equal(t, 200, end)
}

func TestLargestSpanFallsBackToOrigin(t *testing.T) {
	ctx := &variantcontext.Context{}
	start, end := largestSpan(500, ctx)
	require.Equal(t, 500, start)
	require.Equal(t, 500, end)
}

// TestBuildSingleSNPBothSidesCovered is S1: a SNP at chr1:1000 with two
// paired reads on each side yields one context covering both, with
// origin and id on the 1-based VCF POS convention.
func TestBuildSingleSNPBothSidesCovered(t *testing.T) {
	ref := newFakeRef(t, "chr1")
	accFwd, accRev := pair(t, ref, "acc1", 950, 980, 100)
	donFwd, donRev := pair(t, ref, "don1", 960, 990, 100)
	acceptor := &fakeReader{chrom: "chr1", records: []*sam.Record{accFwd, accRev}}
	donor := &fakeReader{chrom: "chr1", records: []*sam.Record{donFwd, donRev}}

	rec := vcfio.Record{Chrom: "chr1", Pos: 999, Ref: "A", Alts: []string{"T"}}
	ctx, err := Build("chr1_1000", "sampleA", rec, acceptor, donor)
	require.NoError(t, err)

	require.Equal(t, "chr1_1000", ctx.ID)
	require.Equal(t, 1000, ctx.Origin)
	require.Len(t, ctx.AcceptorReads, 2)
	require.Len(t, ctx.DonorReads, 2)
	require.Equal(t, 1.0, ctx.ADRatio())
	require.True(t, ctx.Start <= ctx.Origin && ctx.Origin <= ctx.End)
}

// TestBuildIndelWindow is S3: an indel at chr2:500 with ref "A" and alt
// "ATTTTT" is classified as an indel, searched over [500,506) (0-based:
// [499,505)), and yields origin=500.
func TestBuildIndelWindow(t *testing.T) {
	ref := newFakeRef(t, "chr2")
	accFwd, accRev := pair(t, ref, "acc1", 470, 500, 80)
	donFwd, donRev := pair(t, ref, "don1", 475, 505, 80)
	acceptor := &fakeReader{chrom: "chr2", records: []*sam.Record{accFwd, accRev}}
	donor := &fakeReader{chrom: "chr2", records: []*sam.Record{donFwd, donRev}}

	rec := vcfio.Record{Chrom: "chr2", Pos: 499, Ref: "A", Alts: []string{"ATTTTT"}}
	ctx, err := Build("chr2_500", "sampleA", rec, acceptor, donor)
	require.NoError(t, err)

	require.Equal(t, 500, ctx.Origin)
	require.Len(t, ctx.AcceptorReads, 2)
	require.Len(t, ctx.DonorReads, 2)
}

// TestBuildOneSidedContextIsNotItselfDiscarded is S4's precondition: a
// variant present only on the donor side yields a context with zero
// acceptor reads. Build itself never discards contexts (the run
// orchestrator does that before adding to the registry, driven by this
// exact shape of result).
func TestBuildOneSidedContextIsNotItselfDiscarded(t *testing.T) {
	ref := newFakeRef(t, "chr1")
	donFwd, donRev := pair(t, ref, "don1", 960, 990, 100)
	acceptor := &fakeReader{chrom: "chr1"} // no records: acceptor-side variant caller
	donor := &fakeReader{chrom: "chr1", records: []*sam.Record{donFwd, donRev}}

	rec := vcfio.Record{Chrom: "chr1", Pos: 999, Ref: "A", Alts: []string{"T"}}
	ctx, err := Build("chr1_1000", "sampleA", rec, acceptor, donor)
	require.NoError(t, err)

	require.Empty(t, ctx.AcceptorReads)
	require.Len(t, ctx.DonorReads, 2)
}

// TestBuildRecordsUnmappedMate is S6: a read whose mate is flagged
// unmapped contributes to unmapped_mate_ids instead of the paired
// reads list, since it never occurs twice in the accumulated set.
func TestBuildRecordsUnmappedMate(t *testing.T) {
	ref := newFakeRef(t, "chr1")
	donFwd, donRev := pair(t, ref, "don1", 960, 990, 100)
	orphan := newFakeRecord(t, ref, "don2", 965, sam.Read1|sam.MateUnmapped, 0, strings.Repeat("A", 100))

	acceptor := &fakeReader{chrom: "chr1"}
	donor := &fakeReader{chrom: "chr1", records: []*sam.Record{donFwd, donRev, orphan}}

	rec := vcfio.Record{Chrom: "chr1", Pos: 999, Ref: "A", Alts: []string{"T"}}
	ctx, err := Build("chr1_1000", "sampleA", rec, acceptor, donor)
	require.NoError(t, err)

	require.Len(t, ctx.DonorReads, 2) // orphan excluded: it never occurs twice
	require.Contains(t, ctx.UnmappedDonorMateIDs, "don2")
}
