// Package contextbuilder implements the Variant Context Builder: given
// one donor variant, it retrieves the acceptor and donor reads
// overlapping it, applies the exactly-twice mate filter, and merges
// both sides into one Variant Context. Build does not consult contexts
// built earlier; skipping variants that overlap them is done by the
// caller. This is the algorithmic core the rest of the repository is
// built to serve.
package contextbuilder

import (
	"sort"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/log"

	"github.com/grailbio/bio/vase/bamio"
	vread "github.com/grailbio/bio/vase/read"
	"github.com/grailbio/bio/vase/variantcontext"
	"github.com/grailbio/bio/vase/vcfio"
)

// Reader is the subset of *bamio.Reader the context builder needs.
// Accepting it rather than the concrete type lets tests exercise Build
// against an in-memory alignment instead of a real indexed BAM file.
type Reader interface {
	HasReference(chrom string) bool
	Fetch(chrom string, start, end int) ([]*sam.Record, error)
	FetchMate(rec *sam.Record) (*sam.Record, bool, error)
}

// searchWindow returns the half-open read-search interval for a
// variant, per the original's determineReadSearchWindow /
// determineIndelReadRange: a SNP looks at a two-base window, the base
// before it and the base it sits on; an indel looks from its position
// to the longest allele's extent.
func searchWindow(rec vcfio.Record) (start, end int) {
	if variantcontext.Classify(rec.Ref, rec.Alts) == variantcontext.SNP {
		return rec.Pos - 1, rec.Pos + 1
	}
	maxLen := variantcontext.MaxAlleleLen(rec.Ref, rec.Alts)
	return rec.Pos, rec.Pos + maxLen
}

// fetchResult bundles what one retrieval pass over an alignment found.
type fetchResult struct {
	reads         []vread.Aligned
	unmappedMates []string
}

// fetchPairedReads retrieves every record overlapping [start,end) on
// chrom, attempts to pull in each record's mate (recording the ids of
// mates that can't be found as unmapped), deduplicates by read
// identity, and keeps only ids that occur exactly twice — one of each
// mate — per getVariantReads/filterVariantReads in the original tool.
func fetchPairedReads(br Reader, chrom string, start, end int) (fetchResult, error) {
	var result fetchResult
	if br == nil || !br.HasReference(chrom) {
		return result, nil
	}

	primary, err := br.Fetch(chrom, start, end)
	if err != nil {
		return result, err
	}

	byKey := map[vread.Key]*sam.Record{}
	occurrences := map[string]int{}
	unmappedSet := map[string]bool{}

	add := func(rec *sam.Record) {
		aligned := bamio.ToAligned(rec)
		key := aligned.Key()
		if _, dup := byKey[key]; dup {
			return
		}
		byKey[key] = rec
		occurrences[aligned.ID]++
	}

	for _, rec := range primary {
		add(rec)
		mate, found, err := br.FetchMate(rec)
		if err != nil {
			return result, err
		}
		if !found {
			// A mate that cannot be located, whether flagged unmapped or
			// simply absent from the index, is recorded as unmapped.
			unmappedSet[rec.Name] = true
			continue
		}
		add(mate)
	}

	for key, rec := range byKey {
		if occurrences[key.ID] != 2 {
			continue
		}
		result.reads = append(result.reads, bamio.ToAligned(rec))
	}
	for id := range unmappedSet {
		result.unmappedMates = append(result.unmappedMates, id)
	}
	sort.Strings(result.unmappedMates)
	sort.Slice(result.reads, func(i, j int) bool {
		if result.reads[i].ID != result.reads[j].ID {
			return result.reads[i].ID < result.reads[j].ID
		}
		return result.reads[i].Pair < result.reads[j].Pair
	})
	return result, nil
}

// spanOf returns the min start / max end across reads, and whether
// reads was non-empty.
func spanOf(reads []vread.Aligned) (start, end int, ok bool) {
	if len(reads) == 0 {
		return 0, 0, false
	}
	start, end = reads[0].Pos, reads[0].End
	for _, r := range reads[1:] {
		if r.Pos < start {
			start = r.Pos
		}
		if r.End > end {
			end = r.End
		}
	}
	return start, end - 1, true // End field is exclusive; context bounds are inclusive
}

// combinedWindow widens the half-open interval [start,end) to also
// cover every read found by the narrow pass, per the original's
// combined-interval step: the acceptor and donor overlaps are each
// recomputed against chrom = min(acc.start,don.start) .. max(acc.end,
// don.end) so that reads spanning only part of the narrow window are
// not missed on the second, wider retrieval.
func combinedWindow(start, end int, readSets ...[]vread.Aligned) (int, int) {
	for _, reads := range readSets {
		if s, e, ok := spanOf(reads); ok {
			if s < start {
				start = s
			}
			if e+1 > end { // spanOf's e is inclusive; fetch windows are half-open
				end = e + 1
			}
		}
	}
	return start, end
}

// Build constructs one Variant Context for a donor variant, given
// readers for the acceptor and donor alignments (either may be nil, in
// which case that side contributes no reads).
// contextID is the caller-assigned identity (the Context id component
// of the spec, typically "<chrom>_<origin>").
//
// Reads are retrieved in two passes: a narrow pass over the variant's
// own search window, then a second pass over the combined interval
// spanning whatever the narrow pass found, so a read overlapping only
// part of the search window is still captured by the final context.
func Build(contextID, sampleID string, rec vcfio.Record, acceptor, donor Reader) (*variantcontext.Context, error) {
	start, end := searchWindow(rec)

	accResult, err := fetchPairedReads(acceptor, rec.Chrom, start, end)
	if err != nil {
		return nil, err
	}
	donResult, err := fetchPairedReads(donor, rec.Chrom, start, end)
	if err != nil {
		return nil, err
	}

	wideStart, wideEnd := combinedWindow(start, end, accResult.reads, donResult.reads)
	if wideStart != start || wideEnd != end {
		accResult, err = fetchPairedReads(acceptor, rec.Chrom, wideStart, wideEnd)
		if err != nil {
			return nil, err
		}
		donResult, err = fetchPairedReads(donor, rec.Chrom, wideStart, wideEnd)
		if err != nil {
			return nil, err
		}
	}

	// Origin (and, below, Start/End) use the 1-based VCF POS convention,
	// matching vcfio.Record.Pos's 0-based storage offset by one; this is
	// the coordinate base the original tool's context id and varcon.txt
	// Origin column both use. AlignedRead positions stay 0-based, as
	// pysam/BAM report them; spanOf's results are shifted by one below
	// to land in the same 1-based space as Origin.
	origin := rec.Pos + 1
	ctx := &variantcontext.Context{
		ID:                      contextID,
		SampleID:                sampleID,
		Chrom:                   rec.Chrom,
		Origin:                  origin,
		AcceptorReads:           accResult.reads,
		DonorReads:              donResult.reads,
		UnmappedAcceptorMateIDs: accResult.unmappedMates,
		UnmappedDonorMateIDs:    donResult.unmappedMates,
	}

	if s, e, ok := spanOf(accResult.reads); ok {
		ctx.HasAcceptorContext = true
		ctx.AcceptorStart, ctx.AcceptorEnd = s+1, e+1
	}
	if s, e, ok := spanOf(donResult.reads); ok {
		ctx.HasDonorContext = true
		ctx.DonorStart, ctx.DonorEnd = s+1, e+1
	}

	ctx.Start, ctx.End = largestSpan(origin, ctx)
	if !ctx.HasAcceptorContext && !ctx.HasDonorContext {
		log.Error.Printf("contextbuilder: no reads found for variant %s:%d in context %s", rec.Chrom, rec.Pos, contextID)
	}
	return ctx, nil
}

// largestSpan mirrors determineLargestContext: the context bounds are
// the widest of the variant origin itself, the acceptor span and the
// donor span.
func largestSpan(origin int, ctx *variantcontext.Context) (start, end int) {
	start, end = origin, origin
	if ctx.HasAcceptorContext {
		if ctx.AcceptorStart < start {
			start = ctx.AcceptorStart
		}
		if ctx.AcceptorEnd > end {
			end = ctx.AcceptorEnd
		}
	}
	if ctx.HasDonorContext {
		if ctx.DonorStart < start {
			start = ctx.DonorStart
		}
		if ctx.DonorEnd > end {
			end = ctx.DonorEnd
		}
	}
	return start, end
}
