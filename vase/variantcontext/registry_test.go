package variantcontext

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	vread "github.com/grailbio/bio/vase/read"
)

func newTestContext(id string) *Context {
	return &Context{
		ID:                 id,
		SampleID:           "sample1",
		Chrom:              "chr1",
		Origin:             1000,
		Start:              990,
		End:                1040,
		HasAcceptorContext: true,
		AcceptorStart:      990,
		AcceptorEnd:        1040,
		AcceptorReads: []vread.Aligned{
			{ID: "read1", Pair: vread.Read1, Sequence: "ACGT", Quality: "IIII", MapQ: 60},
			{ID: "read1", Pair: vread.Read2, Sequence: "ACGT", Quality: "IIII", MapQ: 60},
		},
		HasDonorContext: true,
		DonorStart:      990,
		DonorEnd:        1040,
		DonorReads: []vread.Aligned{
			{ID: "read2", Pair: vread.Read1, Sequence: "TTTT", Quality: "JJJJ", MapQ: 58},
			{ID: "read2", Pair: vread.Read2, Sequence: "TTTT", Quality: "JJJJ", MapQ: 58},
		},
	}
}

func TestRegistryAddPreservesInsertionOrder(t *testing.T) {
	r := NewRegistry()
	r.Add(newTestContext("ctx2"))
	r.Add(newTestContext("ctx1"))
	r.Add(newTestContext("ctx2")) // re-add keeps original position

	var ids []string
	for _, c := range r.All() {
		ids = append(ids, c.ID)
	}
	require.Equal(t, []string{"ctx2", "ctx1"}, ids)
}

func TestRegistrySetAlgebra(t *testing.T) {
	a := NewRegistry()
	a.Add(newTestContext("1"))
	a.Add(newTestContext("2"))

	b := NewRegistry()
	b.Add(newTestContext("2"))
	b.Add(newTestContext("3"))

	requireIDs := func(t *testing.T, r *Registry, want []string) {
		t.Helper()
		var got []string
		for _, c := range r.All() {
			got = append(got, c.ID)
		}
		require.ElementsMatch(t, want, got)
	}

	requireIDs(t, Union(a, b), []string{"1", "2", "3"})
	requireIDs(t, Intersect(a, b), []string{"2"})
	requireIDs(t, Difference(a, b), []string{"1"})
	requireIDs(t, SymmetricDifference(a, b), []string{"1", "3"})
}

func TestWriteVarconHeaderExact(t *testing.T) {
	r := NewRegistry()
	r.Add(newTestContext("ctx1"))

	var buf bytes.Buffer
	require.NoError(t, r.WriteVarcon(&buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.True(t, len(lines) >= 2)
	require.Equal(t, "#ContextId\tDonorSample\tChrom\tOrigin\tStart\tEnd\tAcceptorContextLength\tDonorContextLength\tAcceptorReads\tDonorReads\tADratio\tAcceptorReadsIds\tDonorReadIds", lines[0])
}

func TestVarconRoundTrip(t *testing.T) {
	r := NewRegistry()
	r.Add(newTestContext("ctx1"))

	var buf bytes.Buffer
	require.NoError(t, r.WriteVarcon(&buf))

	reloaded, err := LoadVarcon(&buf, Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Len())

	ctx := reloaded.Get("ctx1")
	require.NotNil(t, ctx)
	require.Equal(t, "sample1", ctx.SampleID)
	require.Equal(t, "chr1", ctx.Chrom)
	require.Equal(t, 990, ctx.Start)
	require.Equal(t, 1040, ctx.End)
	require.Len(t, ctx.AcceptorReads, 2)
	require.Len(t, ctx.DonorReads, 2)
}

func TestVarconFilterBySample(t *testing.T) {
	r := NewRegistry()
	c1 := newTestContext("ctx1")
	c2 := newTestContext("ctx2")
	c2.SampleID = "sample2"
	r.Add(c1)
	r.Add(c2)

	var buf bytes.Buffer
	require.NoError(t, r.WriteVarcon(&buf))

	reloaded, err := LoadVarcon(&buf, Filter{SampleIDs: map[string]bool{"sample2": true}})
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Len())
	require.Equal(t, "ctx2", reloaded.All()[0].ID)
}
