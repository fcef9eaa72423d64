package variantcontext

import (
	"testing"

	"github.com/stretchr/testify/require"

	vread "github.com/grailbio/bio/vase/read"
)

func TestClassify(t *testing.T) {
	require.Equal(t, SNP, Classify("A", []string{"G"}))
	require.Equal(t, SNP, Classify("A", []string{"G", "T"}))
	require.Equal(t, Indel, Classify("A", []string{"AT"}))
	require.Equal(t, Indel, Classify("AT", []string{"A"}))
}

func TestMaxAlleleLen(t *testing.T) {
	require.Equal(t, 3, MaxAlleleLen("A", []string{"ATG", "AT"}))
	require.Equal(t, 2, MaxAlleleLen("AT", []string{"A"}))
}

func TestContainsSNP(t *testing.T) {
	ctx := &Context{Chrom: "chr1", Start: 100, End: 150}
	require.True(t, ctx.ContainsSNP("chr1", 100))
	require.True(t, ctx.ContainsSNP("chr1", 150))
	require.False(t, ctx.ContainsSNP("chr1", 99))
	require.False(t, ctx.ContainsSNP("chr1", 151))
	require.False(t, ctx.ContainsSNP("chr2", 120))
}

func TestContainsIndel(t *testing.T) {
	ctx := &Context{Chrom: "chr1", Start: 100, End: 150}
	require.True(t, ctx.ContainsIndel("chr1", 90, 15))  // left boundary overlap
	require.True(t, ctx.ContainsIndel("chr1", 140, 20)) // right boundary overlap
	require.True(t, ctx.ContainsIndel("chr1", 80, 100))  // full containment of context
	require.False(t, ctx.ContainsIndel("chr1", 10, 5))
	require.False(t, ctx.ContainsIndel("chr2", 100, 5))
}

func TestADRatio(t *testing.T) {
	ctx := &Context{
		AcceptorReads: []vread.Aligned{{ID: "a"}, {ID: "b"}},
		DonorReads:    []vread.Aligned{{ID: "c"}},
	}
	require.Equal(t, 2.0, ctx.ADRatio())

	empty := &Context{AcceptorReads: []vread.Aligned{{ID: "a"}}}
	require.True(t, empty.ADRatio() != empty.ADRatio()) // NaN
}

func TestReadIDsAreSortedWithPairSuffix(t *testing.T) {
	ctx := &Context{
		AcceptorReads: []vread.Aligned{
			{ID: "readB", Pair: vread.Read2},
			{ID: "readA", Pair: vread.Read1},
		},
	}
	require.Equal(t, []string{"readA/1", "readB/2"}, ctx.AcceptorReadIDs())
}

func TestComputeStats(t *testing.T) {
	reads := []vread.Aligned{
		{Sequence: "ACGT", Quality: "IIII", MapQ: 60},
		{Sequence: "AC", Quality: "((", MapQ: 40},
	}
	stats := ComputeStats(reads)
	require.Equal(t, 3.0, stats.AvgLen)
	require.InDelta(t, 50.0, stats.AvgMapQ, 0.001)
}
