package variantcontext

import (
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"

	vread "github.com/grailbio/bio/vase/read"
)

// contextSideRow backs the acceptor-context.txt / donor-context.txt
// auxiliary tables written under DEBUG verbosity: one side's reads
// for each context, without the other side's columns.
type contextSideRow struct {
	ContextID   string `tsv:"#ContextId"`
	DonorSample string `tsv:"DonorSample"`
	Chrom       string `tsv:"Chrom"`
	Origin      int    `tsv:"Origin"`
	Start       int    `tsv:"Start"`
	End         int    `tsv:"End"`
	NumOfReads  int    `tsv:"NumOfReads"`
	ReadIds     string `tsv:"ReadIds"`
}

// WriteAcceptorContexts writes the acceptor-side-only debug table.
func (r *Registry) WriteAcceptorContexts(w io.Writer) error {
	return writeContextSide(w, r.All(), func(c *Context) (int, int, int, []string) {
		return c.AcceptorStart, c.AcceptorEnd, len(c.AcceptorReads), c.AcceptorReadIDs()
	})
}

// WriteDonorContexts writes the donor-side-only debug table.
func (r *Registry) WriteDonorContexts(w io.Writer) error {
	return writeContextSide(w, r.All(), func(c *Context) (int, int, int, []string) {
		return c.DonorStart, c.DonorEnd, len(c.DonorReads), c.DonorReadIDs()
	})
}

func writeContextSide(w io.Writer, contexts []*Context, pick func(*Context) (start, end, n int, ids []string)) error {
	rw := tsv.NewRowWriter(w)
	for _, c := range contexts {
		start, end, n, ids := pick(c)
		row := contextSideRow{
			ContextID:   c.ID,
			DonorSample: c.SampleID,
			Chrom:       c.Chrom,
			Origin:      c.Origin,
			Start:       start,
			End:         end,
			NumOfReads:  n,
			ReadIds:     strings.Join(ids, ";"),
		}
		if err := rw.Write(&row); err != nil {
			return errors.E(err, "variantcontext: writing context-side row", c.ID)
		}
	}
	return rw.Flush()
}

// sideStatsRow backs the shorter acceptor/donor-only stats tables
// (as distinct from varconstats.txt, which carries both sides).
type sideStatsRow struct {
	ContextID    string  `tsv:"#ContextId"`
	AvgReadLen   float64 `tsv:"Avg_ReadLen"`
	MedReadLen   float64 `tsv:"Med_ReadLen"`
	AvgReadQual  float64 `tsv:"Avg_ReadQual"`
	MedReadQual  float64 `tsv:"Med_ReadQual"`
	AvgReadMapQ  float64 `tsv:"Avg_ReadMapQ"`
	MedReadMapQ  float64 `tsv:"Med_ReadMapQ"`
}

// WriteAcceptorContextStats writes the acceptor-only read statistics
// debug table.
func (r *Registry) WriteAcceptorContextStats(w io.Writer) error {
	return writeSideStats(w, r.All(), func(c *Context) []vread.Aligned { return c.AcceptorReads })
}

// WriteDonorContextStats writes the donor-only read statistics debug
// table.
func (r *Registry) WriteDonorContextStats(w io.Writer) error {
	return writeSideStats(w, r.All(), func(c *Context) []vread.Aligned { return c.DonorReads })
}

func writeSideStats(w io.Writer, contexts []*Context, pick func(*Context) []vread.Aligned) error {
	rw := tsv.NewRowWriter(w)
	for _, c := range contexts {
		s := ComputeStats(pick(c))
		row := sideStatsRow{
			ContextID:   c.ID,
			AvgReadLen:  s.AvgLen,
			MedReadLen:  s.MedLen,
			AvgReadQual: s.AvgQual,
			MedReadQual: s.MedQual,
			AvgReadMapQ: s.AvgMapQ,
			MedReadMapQ: s.MedMapQ,
		}
		if err := rw.Write(&row); err != nil {
			return errors.E(err, "variantcontext: writing stats row", c.ID)
		}
	}
	return rw.Flush()
}

// varconStatsRow backs varconstats.txt, carrying both sides.
type varconStatsRow struct {
	ContextID string  `tsv:"#ContextId"`
	AvgALen   float64 `tsv:"Avg_ALen"`
	AvgDLen   float64 `tsv:"Avg_DLen"`
	MedALen   float64 `tsv:"Med_ALen"`
	MedDLen   float64 `tsv:"Med_DLen"`
	AvgAQual  float64 `tsv:"Avg_AQual"`
	AvgDQual  float64 `tsv:"Avg_DQual"`
	MedAQual  float64 `tsv:"Med_AQual"`
	MedDQual  float64 `tsv:"Med_DQual"`
	AvgAMapQ  float64 `tsv:"Avg_AMapQ"`
	AvgDMapQ  float64 `tsv:"Avg_DMapQ"`
	MedAMapQ  float64 `tsv:"Med_AMapQ"`
	MedDMapQ  float64 `tsv:"Med_DMapQ"`
}

// WriteVarconStats writes varconstats.txt: per-context read-length,
// quality and mapping-quality summaries for both sides.
func (r *Registry) WriteVarconStats(w io.Writer) error {
	rw := tsv.NewRowWriter(w)
	for _, c := range r.All() {
		a := ComputeStats(c.AcceptorReads)
		d := ComputeStats(c.DonorReads)
		row := varconStatsRow{
			ContextID: c.ID,
			AvgALen:   a.AvgLen, AvgDLen: d.AvgLen,
			MedALen: a.MedLen, MedDLen: d.MedLen,
			AvgAQual: a.AvgQual, AvgDQual: d.AvgQual,
			MedAQual: a.MedQual, MedDQual: d.MedQual,
			AvgAMapQ: a.AvgMapQ, AvgDMapQ: d.AvgMapQ,
			MedAMapQ: a.MedMapQ, MedDMapQ: d.MedMapQ,
		}
		if err := rw.Write(&row); err != nil {
			return errors.E(err, "variantcontext: writing varconstats row", c.ID)
		}
	}
	return rw.Flush()
}

// unmappedMateRow backs the per-side unmapped-mate-id debug tables.
type unmappedMateRow struct {
	ContextID string `tsv:"#ContextId"`
	SampleID  string `tsv:"SampleId"`
	ReadIds   string `tsv:"ReadIds"`
}

// WriteUnmappedAcceptorMates writes the acceptor-side unmapped-mate
// table.
func (r *Registry) WriteUnmappedAcceptorMates(w io.Writer) error {
	return writeUnmappedMates(w, r.All(), func(c *Context) []string { return c.UnmappedAcceptorMateIDs })
}

// WriteUnmappedDonorMates writes the donor-side unmapped-mate table.
func (r *Registry) WriteUnmappedDonorMates(w io.Writer) error {
	return writeUnmappedMates(w, r.All(), func(c *Context) []string { return c.UnmappedDonorMateIDs })
}

func writeUnmappedMates(w io.Writer, contexts []*Context, pick func(*Context) []string) error {
	rw := tsv.NewRowWriter(w)
	for _, c := range contexts {
		ids := pick(c)
		if len(ids) == 0 {
			continue
		}
		row := unmappedMateRow{ContextID: c.ID, SampleID: c.SampleID, ReadIds: strings.Join(ids, ";")}
		if err := rw.Write(&row); err != nil {
			return errors.E(err, "variantcontext: writing unmapped-mate row", c.ID)
		}
	}
	return rw.Flush()
}

// leftRightRow backs the left/right read position debug table.
type leftRightRow struct {
	ContextID string `tsv:"#ContextId"`
	LeftPos   string `tsv:"LeftPos"`
	RightPos  string `tsv:"RightPos"`
}

// WriteLeftRightPositions writes, for every context, the acceptor
// read1 (left) and read2 (right) alignment positions, matching the
// original tool's left/right position debug table.
func (r *Registry) WriteLeftRightPositions(w io.Writer) error {
	rw := tsv.NewRowWriter(w)
	for _, c := range r.All() {
		left := positionsOf(c.AcceptorReads, vread.Read1)
		right := positionsOf(c.AcceptorReads, vread.Read2)
		row := leftRightRow{
			ContextID: c.ID,
			LeftPos:   strings.Join(left, ";"),
			RightPos:  strings.Join(right, ";"),
		}
		if err := rw.Write(&row); err != nil {
			return errors.E(err, "variantcontext: writing left/right row", c.ID)
		}
	}
	return rw.Flush()
}

func positionsOf(reads []vread.Aligned, pair vread.PairNumber) []string {
	var out []string
	for _, r := range reads {
		if r.Pair == pair {
			out = append(out, strconv.Itoa(r.Pos))
		}
	}
	return out
}
