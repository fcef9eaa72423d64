// Package bamio wraps an indexed BAM file with the two operations the
// context builder needs: fetching records overlapping a region, and
// finding a record's mate. It is a deliberately thin layer over
// github.com/biogo/hts/bam's index-seek primitives, grounded the same
// way encoding/bamprovider opens and seeks BAM files, but without that
// package's shard pooling, which this single-pass, single-threaded
// pipeline has no use for.
package bamio

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/bgzf/index"
	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"

	vread "github.com/grailbio/bio/vase/read"
)

// Reader provides indexed random access to one BAM file.
type Reader struct {
	path   string
	seeker io.ReadSeeker
	bam    *bam.Reader
	idx    *bam.Index
	header *sam.Header
	refs   map[string]*sam.Reference
}

// Open opens the BAM file at path along with its index, which defaults
// to path+".bai" when indexPath is empty. The underlying file must
// support seeking (random local files do; streamed remote sources do
// not), since region fetch and mate lookup are both seek-based.
func Open(ctx context.Context, path, indexPath string) (*Reader, error) {
	if strings.HasSuffix(path, ".cram") {
		return nil, errors.E("bamio: CRAM input is not supported, only BAM:", path)
	}
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "bamio: opening", path)
	}
	seeker, ok := f.Reader(ctx).(io.ReadSeeker)
	if !ok {
		f.Close(ctx)
		return nil, errors.E("bamio: source does not support seeking:", path)
	}
	br, err := bam.NewReader(seeker, 1)
	if err != nil {
		f.Close(ctx)
		return nil, errors.E(err, "bamio: reading BAM header:", path)
	}

	if indexPath == "" {
		indexPath = path + ".bai"
	}
	idxFile, err := file.Open(ctx, indexPath)
	if err != nil {
		return nil, errors.E(err, "bamio: opening index:", indexPath)
	}
	defer idxFile.Close(ctx)
	idx, err := bam.ReadIndex(idxFile.Reader(ctx))
	if err != nil {
		return nil, errors.E(err, "bamio: reading index:", indexPath)
	}

	refs := make(map[string]*sam.Reference, len(br.Header().Refs()))
	for _, r := range br.Header().Refs() {
		refs[r.Name()] = r
	}

	return &Reader{
		path:   path,
		seeker: seeker,
		bam:    br,
		idx:    idx,
		header: br.Header(),
		refs:   refs,
	}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.bam.Close()
}

// Header returns the BAM header.
func (r *Reader) Header() *sam.Header { return r.header }

// HasReference reports whether chrom appears in the BAM's reference
// dictionary.
func (r *Reader) HasReference(chrom string) bool {
	_, ok := r.refs[chrom]
	return ok
}

// Fetch returns every primary, non-supplementary record overlapping
// the half-open interval [start, end) on chrom, in file order. A
// chromosome absent from the reference dictionary yields no records,
// not an error, matching pysam's fetch() behavior on an empty region.
func (r *Reader) Fetch(chrom string, start, end int) ([]*sam.Record, error) {
	ref, ok := r.refs[chrom]
	if !ok {
		return nil, nil
	}
	chunks, err := r.idx.Chunks(ref, start, end)
	if err == index.ErrInvalid {
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(err, "bamio: index lookup:", chrom)
	}

	var out []*sam.Record
	seen := map[string]bool{}
	for _, chunk := range chunks {
		c := chunk
		if err := r.bam.Seek(c.Begin); err != nil {
			return nil, errors.E(err, "bamio: seek:", r.path)
		}
		if err := r.bam.SetChunk(&c); err != nil {
			return nil, errors.E(err, "bamio: set chunk:", r.path)
		}
		for {
			rec, err := r.bam.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, errors.E(err, "bamio: reading record:", r.path)
			}
			if rec.Ref == nil || rec.Ref.ID() != ref.ID() {
				continue
			}
			if rec.Pos >= end {
				break
			}
			if rec.End() <= start {
				continue
			}
			if rec.Flags&(sam.Secondary|sam.Supplementary) != 0 {
				continue
			}
			// bam.Index.Chunks can return overlapping chunks for
			// adjacent bins; dedup on (name, mate) since Fetch never
			// returns a read and its mate from two different calls.
			dedupKey := rec.Name + dedupSuffix(rec)
			if seen[dedupKey] {
				continue
			}
			seen[dedupKey] = true
			out = append(out, rec)
		}
	}
	return out, nil
}

func dedupSuffix(rec *sam.Record) string {
	if rec.Flags&sam.Read2 != 0 {
		return "/2"
	}
	return "/1"
}

// FetchMate returns the mate of rec, or (nil, false) if rec has no
// mapped mate or the mate cannot be located. It seeks to the mate's
// recorded coordinate and scans for a record with a matching name and
// complementary Read1/Read2 flag, mirroring pysam's mate() helper.
func (r *Reader) FetchMate(rec *sam.Record) (*sam.Record, bool, error) {
	if rec.Flags&sam.MateUnmapped != 0 || rec.MateRef == nil {
		return nil, false, nil
	}
	candidates, err := r.Fetch(rec.MateRef.Name(), rec.MatePos, rec.MatePos+1)
	if err != nil {
		return nil, false, err
	}
	wantRead1 := rec.Flags&sam.Read2 != 0
	for _, cand := range candidates {
		if cand.Name != rec.Name || cand.Pos != rec.MatePos {
			continue
		}
		candIsRead1 := cand.Flags&sam.Read1 != 0
		if candIsRead1 != wantRead1 {
			continue
		}
		return cand, true, nil
	}
	return nil, false, nil
}

// ToAligned converts a sam.Record into the normalized AlignedRead
// value type, undoing the reverse-strand complementing BAM applies so
// Sequence/Quality match what the originating FASTQ record held.
func ToAligned(rec *sam.Record) vread.Aligned {
	pair := vread.Read1
	if rec.Flags&sam.Read2 != 0 {
		pair = vread.Read2
	}
	seq := rec.Seq.Expand()
	qual := append([]byte(nil), rec.Qual...)
	if rec.Flags&sam.Reverse != 0 {
		seq = reverseComplement(seq)
		reverseBytes(qual)
	}
	chrom := ""
	if rec.Ref != nil {
		chrom = rec.Ref.Name()
	}
	return vread.Aligned{
		ID:       rec.Name,
		Pair:     pair,
		Chrom:    chrom,
		Pos:      rec.Pos,
		End:      rec.End(),
		MapQ:     rec.MapQ,
		Sequence: string(seq),
		Quality:  string(qualToPhred(qual)),
		Unmapped: rec.Flags&sam.Unmapped != 0,
	}
}

// qualToPhred renders BAM's raw quality bytes (Phred score, no offset)
// into FASTQ's '!'-offset ASCII encoding.
func qualToPhred(q []byte) []byte {
	out := make([]byte, len(q))
	for i, v := range q {
		out[i] = v + 33
	}
	return out
}

var complement = [256]byte{}

func init() {
	for i := 0; i < 256; i++ {
		complement[i] = byte(i)
	}
	pairs := map[byte]byte{'A': 'T', 'C': 'G', 'G': 'C', 'T': 'A', 'N': 'N'}
	for a, b := range pairs {
		complement[a] = b
		complement[a+32] = b + 32 // lowercase
	}
}

func reverseComplement(seq []byte) []byte {
	out := make([]byte, len(seq))
	n := len(seq)
	for i, b := range seq {
		out[n-1-i] = complement[b]
	}
	return out
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// IndexPathFor derives the default index path for a BAM path.
func IndexPathFor(path string) string {
	if strings.HasSuffix(path, ".bam") {
		return path + ".bai"
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".bai"
}
