package fastqsub

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/bio/encoding/fastq"
	vread "github.com/grailbio/bio/vase/read"
)

func gzipLane(t *testing.T, reads ...fastq.Read) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	w := fastq.NewWriter(gz)
	for _, r := range reads {
		rec := r
		require.NoError(t, w.Write(&rec))
	}
	require.NoError(t, gz.Close())
	return &buf
}

func readAllLane(t *testing.T, r *bytes.Buffer) []fastq.Read {
	t.Helper()
	gz, err := gzip.NewReader(r)
	require.NoError(t, err)
	defer gz.Close()
	var out []fastq.Read
	s := fastq.NewScanner(gz, fastq.All)
	var rec fastq.Read
	for s.Scan(&rec) {
		out = append(out, rec)
	}
	require.NoError(t, s.Err())
	return out
}

func TestWriteSkipsAndAppendsDonorReads(t *testing.T) {
	lane1 := gzipLane(t,
		fastq.Read{ID: "@keepme/1", Seq: "ACGT", Unk: "+", Qual: "IIII"},
		fastq.Read{ID: "@skipme/1", Seq: "GGGG", Unk: "+", Qual: "IIII"},
	)
	lane2 := gzipLane(t,
		fastq.Read{ID: "@another/1", Seq: "TTTT", Unk: "+", Qual: "IIII"},
	)

	var out1, out2 bytes.Buffer
	skip := map[string]bool{"skipme": true}
	donor := []DonorRead{
		{ID: "zdonor", Pair: vread.Read1, Seq: "CCCC", Qual: "JJJJ"},
		{ID: "adonor", Pair: vread.Read1, Seq: "AAAA", Qual: "JJJJ"},
	}

	err := Write([]Lane{
		{Src: lane1, Dst: &out1},
		{Src: bytes.NewReader(lane2.Bytes()), Dst: &out2},
	}, skip, donor)
	require.NoError(t, err)

	first := readAllLane(t, &out1)
	require.Len(t, first, 1)
	require.Equal(t, "@keepme/1", first[0].ID)

	second := readAllLane(t, &out2)
	require.Len(t, second, 3)
	require.Equal(t, "@another/1", second[0].ID)
	// donor reads appended sorted by id, only on the last lane.
	require.Equal(t, "@adonor/1", second[1].ID)
	require.Equal(t, "@zdonor/1", second[2].ID)
}

func TestWriteNoDonorReadsOnNonFinalLane(t *testing.T) {
	lane1 := gzipLane(t, fastq.Read{ID: "@r1/1", Seq: "ACGT", Unk: "+", Qual: "IIII"})
	lane2 := gzipLane(t, fastq.Read{ID: "@r2/1", Seq: "ACGT", Unk: "+", Qual: "IIII"})

	var out1, out2 bytes.Buffer
	donor := []DonorRead{{ID: "donor1", Pair: vread.Read2, Seq: "CCCC", Qual: "JJJJ"}}

	err := Write([]Lane{
		{Src: lane1, Dst: &out1},
		{Src: lane2, Dst: &out2},
	}, nil, donor)
	require.NoError(t, err)

	require.Len(t, readAllLane(t, &out1), 1)
	second := readAllLane(t, &out2)
	require.Len(t, second, 2)
	require.Equal(t, "@donor1/2", second[1].ID)
}
