// Package fastqsub implements the FASTQ Substitution Writer: it
// streams each acceptor FASTQ lane through unchanged except for
// omitting reads the Variant Context Registry claimed, and on the
// last lane of each orientation appends the donor reads belonging to
// those contexts, sorted by read id.
package fastqsub

import (
	"io"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/klauspost/compress/gzip"

	"github.com/grailbio/bio/encoding/fastq"
	vread "github.com/grailbio/bio/vase/read"
)

// DonorRead is one donor-side FASTQ record to append, carrying enough
// to reconstruct it in FASTQ format.
type DonorRead struct {
	ID   string
	Pair vread.PairNumber
	Seq  string
	Qual string
}

// Lane is one acceptor FASTQ input/output pair: a gzipped source lane
// and the gzipped destination it is rewritten to.
type Lane struct {
	Src io.Reader
	Dst io.Writer
}

// Write streams every lane in order for one orientation (R1 or R2),
// skipping any acceptor read whose CoreID is in skip, and appending
// donorReads (already filtered to the matching pair/orientation) only
// after the last lane, sorted by id ascending, per
// VaSeBuilder.py.writeVaSeFastQ.
func Write(lanes []Lane, skip map[string]bool, donorReads []DonorRead) error {
	sorted := append([]DonorRead(nil), donorReads...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for i, lane := range lanes {
		appended := (i == len(lanes)-1)
		var toAppend []DonorRead
		if appended {
			toAppend = sorted
		}
		if err := writeLane(lane, skip, toAppend); err != nil {
			return err
		}
	}
	return nil
}

func writeLane(lane Lane, skip map[string]bool, donorReads []DonorRead) error {
	gz, err := gzip.NewReader(lane.Src)
	if err != nil {
		return errors.E(err, "fastqsub: opening acceptor lane")
	}
	defer gz.Close()

	out := gzip.NewWriter(lane.Dst)

	writer := fastq.NewWriter(out)
	scanner := fastq.NewScanner(gz, fastq.All)
	var r fastq.Read
	for scanner.Scan(&r) {
		if skip[r.CoreID()] {
			continue
		}
		if err := writer.Write(&r); err != nil {
			out.Close()
			return errors.E(err, "fastqsub: writing acceptor read", r.ID)
		}
	}
	if err := scanner.Err(); err != nil {
		out.Close()
		return errors.E(err, "fastqsub: reading acceptor lane")
	}

	for _, d := range donorReads {
		suffix := "/1"
		if d.Pair == vread.Read2 {
			suffix = "/2"
		}
		rec := fastq.Read{
			ID:   "@" + d.ID + suffix,
			Seq:  d.Seq,
			Unk:  "+",
			Qual: d.Qual,
		}
		if err := writer.Write(&rec); err != nil {
			out.Close()
			return errors.E(err, "fastqsub: writing donor read", d.ID)
		}
	}
	return out.Close()
}
