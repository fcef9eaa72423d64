// Package vcfio provides a minimal streaming reader for VCF 4.x
// variant call files, adapted from the pattern of
// github.com/grailbio/bio/encoding/fastq's Scanner: a bufio.Scanner
// underneath, one Record per Scan, first error sticks.
//
// Unlike a full VCF library this keeps only the fields the context
// builder needs (chrom, 0-based pos, ref, alt alleles) and does not
// parse INFO, FORMAT or genotype columns.
package vcfio

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/klauspost/compress/gzip"
)

// Record is one VCF data line, already split into its (possibly
// multiple) ALT alleles.
type Record struct {
	Chrom string
	Pos   int // 0-based
	ID    string
	Ref   string
	Alts  []string
}

// Scanner reads VCF records from an uncompressed or gzip-compressed
// stream.
type Scanner struct {
	b       *bufio.Scanner
	err     error
	samples []string
}

// NewScanner wraps r, transparently gunzipping when the stream starts
// with the gzip magic bytes.
func NewScanner(r io.Reader) (*Scanner, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.E(err, "vcfio: opening gzip stream")
		}
		r = gz
	} else {
		r = br
	}

	s := &Scanner{b: bufio.NewScanner(r)}
	s.b.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for s.b.Scan() {
		line := s.b.Text()
		if strings.HasPrefix(line, "##") {
			continue
		}
		if strings.HasPrefix(line, "#") {
			cols := strings.Split(line, "\t")
			if len(cols) > 9 {
				s.samples = append(s.samples, cols[9:]...)
			}
			return s, nil
		}
		return nil, errors.E("vcfio: data line encountered before #CHROM header")
	}
	if err := s.b.Err(); err != nil {
		return nil, errors.E(err, "vcfio: reading header")
	}
	return nil, errors.E("vcfio: no #CHROM header found")
}

// Samples returns the sample ids named in the #CHROM header line, in
// column order.
func (s *Scanner) Samples() []string { return s.samples }

// Scan advances to the next data record. It returns false at EOF or
// on the first error, which Err then reports.
func (s *Scanner) Scan(rec *Record) bool {
	if s.err != nil {
		return false
	}
	if !s.b.Scan() {
		s.err = s.b.Err()
		return false
	}
	line := s.b.Text()
	if line == "" {
		return s.Scan(rec)
	}
	fields := strings.Split(line, "\t")
	if len(fields) < 5 {
		s.err = errors.E("vcfio: malformed record, fewer than 5 columns:", line)
		return false
	}
	pos, err := strconv.Atoi(fields[1])
	if err != nil {
		s.err = errors.E(err, "vcfio: non-numeric POS:", line)
		return false
	}
	rec.Chrom = fields[0]
	rec.Pos = pos - 1
	rec.ID = fields[2]
	rec.Ref = strings.ToUpper(fields[3])
	rec.Alts = rec.Alts[:0]
	for _, a := range strings.Split(fields[4], ",") {
		rec.Alts = append(rec.Alts, strings.ToUpper(a))
	}
	return true
}

// Err returns the first error encountered by Scan, if any.
func (s *Scanner) Err() error { return s.err }
