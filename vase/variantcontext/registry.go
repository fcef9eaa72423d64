package variantcontext

import (
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"

	vread "github.com/grailbio/bio/vase/read"
)

// Registry holds the Variant Contexts produced (or reloaded) during a
// run, preserving insertion order for deterministic serialization
// while also indexing by id for O(1) lookup, the same map-plus-order
// bookkeeping pattern bamprovider.BAMProvider uses for its free
// iterator pool.
type Registry struct {
	byID  map[string]*Context
	order []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Context)}
}

// Add inserts ctx, keyed by its ID. Re-adding an existing id replaces
// its contents but keeps its original position, matching
// set-of-context-ids-as-identity semantics used throughout
// VariantContextFile.py.
func (r *Registry) Add(ctx *Context) {
	if _, ok := r.byID[ctx.ID]; !ok {
		r.order = append(r.order, ctx.ID)
	}
	r.byID[ctx.ID] = ctx
}

// Get returns the context for id, or nil if absent.
func (r *Registry) Get(id string) *Context { return r.byID[id] }

// Len returns the number of contexts in the registry.
func (r *Registry) Len() int { return len(r.order) }

// All returns contexts in insertion order.
func (r *Registry) All() []*Context {
	out := make([]*Context, len(r.order))
	for i, id := range r.order {
		out[i] = r.byID[id]
	}
	return out
}

// ContainingSNP returns every context overlapping a SNP at chrom:pos.
func (r *Registry) ContainingSNP(chrom string, pos int) []*Context {
	var out []*Context
	for _, ctx := range r.All() {
		if ctx.ContainsSNP(chrom, pos) {
			out = append(out, ctx)
		}
	}
	return out
}

// ContainingIndel returns every context overlapping an indel.
func (r *Registry) ContainingIndel(chrom string, pos, alleleLen int) []*Context {
	var out []*Context
	for _, ctx := range r.All() {
		if ctx.ContainsIndel(chrom, pos, alleleLen) {
			out = append(out, ctx)
		}
	}
	return out
}

func idSet(r *Registry) map[string]bool {
	set := make(map[string]bool, r.Len())
	for _, id := range r.order {
		set[id] = true
	}
	return set
}

// Union returns a new Registry holding every context present in
// either r or other, ordered by r's order first.
func Union(r, other *Registry) *Registry {
	out := NewRegistry()
	for _, ctx := range r.All() {
		out.Add(ctx)
	}
	for _, ctx := range other.All() {
		if out.Get(ctx.ID) == nil {
			out.Add(ctx)
		}
	}
	return out
}

// Intersect returns a new Registry holding only contexts whose id is
// present in both r and other.
func Intersect(r, other *Registry) *Registry {
	otherIDs := idSet(other)
	out := NewRegistry()
	for _, ctx := range r.All() {
		if otherIDs[ctx.ID] {
			out.Add(ctx)
		}
	}
	return out
}

// Difference returns contexts present in r but absent from other.
func Difference(r, other *Registry) *Registry {
	otherIDs := idSet(other)
	out := NewRegistry()
	for _, ctx := range r.All() {
		if !otherIDs[ctx.ID] {
			out.Add(ctx)
		}
	}
	return out
}

// SymmetricDifference returns contexts present in exactly one of r,
// other.
func SymmetricDifference(r, other *Registry) *Registry {
	out := Difference(r, other)
	for _, ctx := range Difference(other, r).All() {
		out.Add(ctx)
	}
	return out
}

// varconHeader is the exact header line VariantContextFile.py writes
// for varcon.txt.
const varconHeader = "#ContextId\tDonorSample\tChrom\tOrigin\tStart\tEnd\tAcceptorContextLength\tDonorContextLength\tAcceptorReads\tDonorReads\tADratio\tAcceptorReadsIds\tDonorReadIds"

// varconRow is the tsv.RowWriter/tsv.Reader struct-tag mapping for one
// varcon.txt data line, following the pattern
// pileup/snp/basestrand.go uses for its own TSV row type.
type varconRow struct {
	ContextID             string `tsv:"#ContextId"`
	DonorSample           string `tsv:"DonorSample"`
	Chrom                 string `tsv:"Chrom"`
	Origin                int    `tsv:"Origin"`
	Start                 int    `tsv:"Start"`
	End                   int    `tsv:"End"`
	AcceptorContextLength int    `tsv:"AcceptorContextLength"`
	DonorContextLength    int    `tsv:"DonorContextLength"`
	AcceptorReads         int    `tsv:"AcceptorReads"`
	DonorReads            int    `tsv:"DonorReads"`
	ADratio               string `tsv:"ADratio"`
	AcceptorReadsIds      string `tsv:"AcceptorReadsIds"`
	DonorReadIds          string `tsv:"DonorReadIds"`
}

// WriteVarcon serializes the registry to the canonical varcon.txt
// format, in insertion order. tsv.RowWriter emits the header line from
// the varconRow struct tags, which (with the leading "#ContextId" tag)
// reproduces the original tool's exact header text.
func (r *Registry) WriteVarcon(w io.Writer) error {
	rw := tsv.NewRowWriter(w)
	for _, ctx := range r.All() {
		ratio := "N/A"
		if !math.IsNaN(ctx.ADRatio()) {
			ratio = strconv.FormatFloat(ctx.ADRatio(), 'f', -1, 64)
		}
		row := varconRow{
			ContextID:             ctx.ID,
			DonorSample:           ctx.SampleID,
			Chrom:                 ctx.Chrom,
			Origin:                ctx.Origin,
			Start:                 ctx.Start,
			End:                   ctx.End,
			AcceptorContextLength: ctx.AcceptorContextLength(),
			DonorContextLength:    ctx.DonorContextLength(),
			AcceptorReads:         len(ctx.AcceptorReads),
			DonorReads:            len(ctx.DonorReads),
			ADratio:               ratio,
			AcceptorReadsIds:      strings.Join(ctx.AcceptorReadIDs(), ";"),
			DonorReadIds:          strings.Join(ctx.DonorReadIDs(), ";"),
		}
		if err := rw.Write(&row); err != nil {
			return errors.E(err, "variantcontext: writing varcon row", ctx.ID)
		}
	}
	return rw.Flush()
}

// Filter restricts which rows LoadVarcon keeps. A zero-value Filter
// passes everything, matching VariantContextFile.py's passes_filter.
type Filter struct {
	SampleIDs map[string]bool
	ContextID map[string]bool
	Chrom     map[string]bool
}

func (f Filter) passes(row *varconRow) bool {
	if f.SampleIDs != nil && !f.SampleIDs[row.DonorSample] {
		return false
	}
	if f.ContextID != nil && !f.ContextID[row.ContextID] {
		return false
	}
	if f.Chrom != nil && !f.Chrom[row.Chrom] {
		return false
	}
	return true
}

// LoadVarcon re-reads a previously written varcon.txt. Reloaded
// contexts carry only their ids/coordinates and read-id lists; the
// per-read payloads (sequence, quality, mapping quality) are not
// recoverable from the table, matching the "C" run modes' reduced
// fidelity described in the original tool's reload path.
func LoadVarcon(r io.Reader, filter Filter) (*Registry, error) {
	tr := tsv.NewReader(r)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true

	reg := NewRegistry()
	for {
		var row varconRow
		if err := tr.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.E(err, "variantcontext: reading varcon.txt")
		}
		if !filter.passes(&row) {
			continue
		}
		ctx := &Context{
			ID:                 row.ContextID,
			SampleID:           row.DonorSample,
			Chrom:              row.Chrom,
			Origin:             row.Origin,
			Start:              row.Start,
			End:                row.End,
			HasAcceptorContext: row.AcceptorContextLength > 0,
			HasDonorContext:    row.DonorContextLength > 0,
			AcceptorStart:      row.Start,
			AcceptorEnd:        row.Start + row.AcceptorContextLength - 1,
			DonorStart:         row.Start,
			DonorEnd:           row.Start + row.DonorContextLength - 1,
		}
		ctx.AcceptorReads = placeholderReads(row.AcceptorReadsIds)
		ctx.DonorReads = placeholderReads(row.DonorReadIds)
		reg.Add(ctx)
	}
	return reg, nil
}

// placeholderReads turns a ";"-joined "id/1;id/2" field back into
// minimal AlignedRead stand-ins carrying only their id and pair
// number, since varcon.txt never stored sequence/quality/mapq.
func placeholderReads(joined string) []vread.Aligned {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ";")
	out := make([]vread.Aligned, 0, len(parts))
	for _, p := range parts {
		pair := vread.Read1
		id := p
		switch {
		case strings.HasSuffix(p, "/2"):
			pair = vread.Read2
			id = strings.TrimSuffix(p, "/2")
		case strings.HasSuffix(p, "/1"):
			id = strings.TrimSuffix(p, "/1")
		}
		out = append(out, vread.Aligned{ID: id, Pair: pair})
	}
	return out
}
