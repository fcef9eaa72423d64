// Package run implements the Run Orchestrator: it dispatches on run
// mode, drives the Context Builder (or reloads a prior registry) and
// the FASTQ Substitution Writer, and writes the output tables.
package run

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/klauspost/compress/gzip"

	"github.com/grailbio/bio/encoding/fastq"
	"github.com/grailbio/bio/vase/bamio"
	"github.com/grailbio/bio/vase/contextbuilder"
	"github.com/grailbio/bio/vase/fastqsub"
	vread "github.com/grailbio/bio/vase/read"
	"github.com/grailbio/bio/vase/variantcontext"
	"github.com/grailbio/bio/vase/vaseconfig"
	"github.com/grailbio/bio/vase/vcfio"
)

// donorSample pairs one donor's VCF and BAM with a derived sample id,
// the unit the orchestrator iterates over.
type donorSample struct {
	id  string
	vcf string
	bam string
}

// Run executes cfg.RunMode end to end.
func Run(ctx context.Context, cfg *vaseconfig.Config) error {
	if err := vaseconfig.Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Out, 0o755); err != nil {
		return errors.E(err, "run: creating output directory:", cfg.Out)
	}

	var registry *variantcontext.Registry
	var err error
	// A mode, like the C modes, starts from the -varconin registry.
	if vaseconfig.IsReloadMode(cfg.RunMode) || cfg.RunMode == vaseconfig.ModeA {
		registry, err = reloadRegistry(ctx, cfg)
	} else {
		registry, err = buildRegistry(ctx, cfg)
	}
	if err != nil {
		return err
	}
	log.Debug.Printf("run: registry holds %d contexts", registry.Len())

	if needsFastqOutput(cfg.RunMode) {
		if err := substituteFastqs(ctx, cfg, registry); err != nil {
			return err
		}
	}

	return writeOutputTables(cfg, registry)
}

// needsFastqOutput reports whether mode produces substituted FASTQ
// output, as opposed to only a variant context registry (D/DC/P/PC/X/XC).
func needsFastqOutput(mode vaseconfig.Mode) bool {
	switch mode {
	case vaseconfig.ModeA, vaseconfig.ModeAC, vaseconfig.ModeF, vaseconfig.ModeFC:
		return true
	}
	return false
}

func donorSamples(cfg *vaseconfig.Config) ([]donorSample, error) {
	if len(cfg.DonorVCF) != len(cfg.DonorBAM) {
		return nil, errors.E("run: donor VCF and BAM counts differ")
	}
	samples := make([]donorSample, len(cfg.DonorVCF))
	for i := range cfg.DonorVCF {
		samples[i] = donorSample{
			id:  sampleIDFromPath(cfg.DonorVCF[i]),
			vcf: cfg.DonorVCF[i],
			bam: cfg.DonorBAM[i],
		}
	}
	// Sample iteration order is fixed lexicographically so that
	// first-seen-wins overlap resolution across samples is
	// deterministic, per the Design Notes.
	sort.Slice(samples, func(i, j int) bool { return samples[i].id < samples[j].id })
	return samples, nil
}

func sampleIDFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.TrimSuffix(base, ".vcf")
	return base
}

// buildRegistry constructs every variant context fresh from the
// configured donor VCF/BAM pairs (and acceptor BAM, when present).
func buildRegistry(ctx context.Context, cfg *vaseconfig.Config) (*variantcontext.Registry, error) {
	samples, err := donorSamples(cfg)
	if err != nil {
		return nil, err
	}

	var acceptor *bamio.Reader
	if cfg.AcceptorBAM != "" {
		acceptor, err = bamio.Open(ctx, cfg.AcceptorBAM, "")
		if err != nil {
			return nil, err
		}
		defer acceptor.Close()
	}

	registry := variantcontext.NewRegistry()
	for _, sample := range samples {
		if err := buildSampleContexts(ctx, sample, acceptor, registry); err != nil {
			log.Error.Printf("run: sample %s: %v", sample.id, err)
			continue
		}
	}
	return registry, nil
}

// asReader adapts a possibly-nil *bamio.Reader to contextbuilder.Reader.
// Passing a nil *bamio.Reader straight through would produce a non-nil
// interface wrapping a nil pointer, breaking contextbuilder's own nil
// check; converting explicitly here keeps the nil meaningful.
func asReader(r *bamio.Reader) contextbuilder.Reader {
	if r == nil {
		return nil
	}
	return r
}

func buildSampleContexts(ctx context.Context, sample donorSample, acceptor *bamio.Reader, registry *variantcontext.Registry) error {
	donor, err := bamio.Open(ctx, sample.bam, "")
	if err != nil {
		return err
	}
	defer donor.Close()

	f, err := os.Open(sample.vcf)
	if err != nil {
		return errors.E(err, "run: opening donor VCF:", sample.vcf)
	}
	defer f.Close()

	scanner, err := vcfio.NewScanner(f)
	if err != nil {
		return errors.E(err, "run: reading donor VCF header:", sample.vcf)
	}

	var rec vcfio.Record
	n := 0
	for scanner.Scan(&rec) {
		if !isPlausibleAlleleSet(rec.Ref, rec.Alts) {
			log.Error.Printf("run: skipping variant with non-ACGT allele at %s:%d", rec.Chrom, rec.Pos)
			continue
		}
		if skipOverlapping(registry, rec) {
			log.Debug.Printf("run: skipping variant %s:%d, already covered by an existing context", rec.Chrom, rec.Pos+1)
			continue
		}
		contextID := fmt.Sprintf("%s_%d", rec.Chrom, rec.Pos+1)
		vctx, err := contextbuilder.Build(contextID, sample.id, rec, asReader(acceptor), donor)
		if err != nil {
			log.Error.Printf("run: building context %s: %v", contextID, err)
			continue
		}
		if !isValidContext(vctx) {
			log.Debug.Printf("run: discarding context %s, acceptor reads=%d donor reads=%d", contextID, len(vctx.AcceptorReads), len(vctx.DonorReads))
			continue
		}
		registry.Add(vctx)
		n++
	}
	if err := scanner.Err(); err != nil {
		return errors.E(err, "run: scanning donor VCF:", sample.vcf)
	}
	log.Debug.Printf("run: sample %s contributed %d contexts", sample.id, n)
	return nil
}

// skipOverlapping reports whether rec falls inside a context the
// registry already holds, implementing the first-seen-wins dedup
// policy: once a locus is covered by a context, later variants in the
// same or overlapping window contribute nothing further.
func skipOverlapping(registry *variantcontext.Registry, rec vcfio.Record) bool {
	pos := rec.Pos + 1 // Registry/Context coordinates are 1-based.
	if variantcontext.Classify(rec.Ref, rec.Alts) == variantcontext.SNP {
		return len(registry.ContainingSNP(rec.Chrom, pos)) > 0
	}
	maxLen := variantcontext.MaxAlleleLen(rec.Ref, rec.Alts)
	return len(registry.ContainingIndel(rec.Chrom, pos, maxLen)) > 0
}

// isValidContext reports whether vctx has at least one read on each
// side, per the registry's validity rule: a context with no acceptor
// reads or no donor reads is discarded rather than stored.
func isValidContext(vctx *variantcontext.Context) bool {
	return len(vctx.AcceptorReads) > 0 && len(vctx.DonorReads) > 0
}

// isPlausibleAlleleSet rejects alleles containing characters other
// than A/C/G/T/N or the VCF 4.2 spanning-deletion placeholder "*".
func isPlausibleAlleleSet(ref string, alts []string) bool {
	if !isACGTN(ref) {
		return false
	}
	for _, a := range alts {
		if a == "*" {
			continue
		}
		if !isACGTN(a) {
			return false
		}
	}
	return true
}

func isACGTN(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range []byte(s) {
		switch c {
		case 'A', 'C', 'G', 'T', 'N':
		default:
			return false
		}
	}
	return true
}

func reloadRegistry(ctx context.Context, cfg *vaseconfig.Config) (*variantcontext.Registry, error) {
	f, err := os.Open(cfg.VarconIn)
	if err != nil {
		return nil, errors.E(err, "run: opening varcon input:", cfg.VarconIn)
	}
	defer f.Close()

	var filter variantcontext.Filter
	if cfg.VariantList != "" {
		filter, err = loadVariantListFilter(cfg.VariantList)
		if err != nil {
			return nil, err
		}
	}
	return variantcontext.LoadVarcon(f, filter)
}

func loadVariantListFilter(path string) (variantcontext.Filter, error) {
	f, err := os.Open(path)
	if err != nil {
		return variantcontext.Filter{}, errors.E(err, "run: opening variant list:", path)
	}
	defer f.Close()
	ids := map[string]bool{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ids[line] = true
	}
	if err := scanner.Err(); err != nil {
		return variantcontext.Filter{}, errors.E(err, "run: reading variant list:", path)
	}
	return variantcontext.Filter{ContextID: ids}, nil
}

// substituteFastqs runs the FASTQ Substitution Writer over the
// template lanes, using the registry's donor reads (A/AC: sourced from
// raw donor FASTQ files; F/FC: sourced from the BAM-derived context
// payload already in the registry).
func substituteFastqs(ctx context.Context, cfg *vaseconfig.Config, registry *variantcontext.Registry) error {
	skip := map[string]bool{}
	for _, vctx := range registry.All() {
		for id := range vctx.AcceptorIDSet() {
			skip[id] = true
		}
	}

	donorR1, donorR2, err := collectDonorReads(cfg, registry)
	if err != nil {
		return err
	}

	// One date stamp per run, shared by every lane of both orientations,
	// per the output filename format.
	date := time.Now().Format("2006-01-02")

	lanes1, err := openLanePairs(cfg, vaseconfig.ParseLaneList(cfg.TemplateFQ1), "R1", date)
	if err != nil {
		return err
	}
	defer closeLanes(lanes1)
	lanes2, err := openLanePairs(cfg, vaseconfig.ParseLaneList(cfg.TemplateFQ2), "R2", date)
	if err != nil {
		return err
	}
	defer closeLanes(lanes2)

	if err := fastqsub.Write(lanes1, skip, donorR1); err != nil {
		return err
	}
	return fastqsub.Write(lanes2, skip, donorR2)
}

// collectDonorReads gathers the donor-side FASTQ payload for every
// context in the registry. For F/FC mode the payload already lives on
// the AlignedRead (it was read straight out of the donor BAM); for
// A/AC mode the registry was reloaded from varcon.txt and carries only
// ids, so the raw donor FASTQ files named by DonorFastqs are scanned
// for matches.
func collectDonorReads(cfg *vaseconfig.Config, registry *variantcontext.Registry) (r1, r2 []fastqsub.DonorRead, err error) {
	wantIDs := map[string]bool{}
	haveSeq := false
	for _, vctx := range registry.All() {
		for _, r := range vctx.DonorReads {
			wantIDs[r.ID] = true
			if r.Sequence != "" {
				haveSeq = true
			}
			dr := fastqsub.DonorRead{ID: r.ID, Pair: r.Pair, Seq: r.Sequence, Qual: r.Quality}
			if r.IsRead1() {
				r1 = append(r1, dr)
			} else {
				r2 = append(r2, dr)
			}
		}
	}
	if haveSeq || len(cfg.DonorFastqs) == 0 {
		return r1, r2, nil
	}

	// Reload mode: look the payload up from the raw donor FASTQ files.
	r1 = r1[:0]
	r2 = r2[:0]
	for i := 0; i+1 < len(cfg.DonorFastqs); i += 2 {
		found1, found2, err := scanDonorFastqPair(cfg.DonorFastqs[i], cfg.DonorFastqs[i+1], wantIDs)
		if err != nil {
			return nil, nil, err
		}
		r1 = append(r1, found1...)
		r2 = append(r2, found2...)
	}
	return r1, r2, nil
}

func scanDonorFastqPair(path1, path2 string, wantIDs map[string]bool) (r1, r2 []fastqsub.DonorRead, err error) {
	read := func(path string, pair vread.PairNumber, out *[]fastqsub.DonorRead) error {
		f, err := os.Open(path)
		if err != nil {
			return errors.E(err, "run: opening donor FASTQ:", path)
		}
		defer f.Close()
		gz, err := gzip.NewReader(f)
		if err != nil {
			return errors.E(err, "run: opening gzip donor FASTQ:", path)
		}
		defer gz.Close()

		scanner := fastq.NewScanner(gz, fastq.All)
		var rec fastq.Read
		for scanner.Scan(&rec) {
			id := rec.CoreID()
			if !wantIDs[id] {
				continue
			}
			*out = append(*out, fastqsub.DonorRead{ID: id, Pair: pair, Seq: rec.Seq, Qual: rec.Qual})
		}
		return scanner.Err()
	}
	if err := read(path1, vread.Read1, &r1); err != nil {
		return nil, nil, err
	}
	if err := read(path2, vread.Read2, &r2); err != nil {
		return nil, nil, err
	}
	return r1, r2, nil
}

// openLanePairs opens one fastqsub.Lane per path in templatePaths (in
// lane order), naming each output
// "{stem}_{date}_L{i+1}_{orientation}.fastq.gz" per the FASTQ
// Substitution Writer's output format. If any lane fails to open,
// every lane opened so far is closed before returning the error.
func openLanePairs(cfg *vaseconfig.Config, templatePaths []string, orientation, date string) (lanes []fastqsub.Lane, err error) {
	defer func() {
		if err != nil {
			closeLanes(lanes)
			lanes = nil
		}
	}()
	if len(templatePaths) == 0 {
		return nil, errors.E("run: no FASTQ lanes given for", orientation)
	}
	stem := vaseconfig.OutputName(cfg.FastqOut, "VaSe")
	for i, path := range templatePaths {
		var src *os.File
		src, err = os.Open(path)
		if err != nil {
			err = errors.E(err, "run: opening template FASTQ:", path)
			return
		}
		outPath := filepath.Join(cfg.Out, fmt.Sprintf("%s_%s_L%d_%s.fastq.gz", stem, date, i+1, orientation))
		var dst *os.File
		dst, err = os.Create(outPath)
		if err != nil {
			src.Close()
			err = errors.E(err, "run: creating output FASTQ:", outPath)
			return
		}
		lanes = append(lanes, fastqsub.Lane{Src: src, Dst: dst})
	}
	return
}

func closeLanes(lanes []fastqsub.Lane) {
	for _, l := range lanes {
		if c, ok := l.Src.(*os.File); ok {
			c.Close()
		}
		if c, ok := l.Dst.(*os.File); ok {
			c.Close()
		}
	}
}

func writeOutputTables(cfg *vaseconfig.Config, registry *variantcontext.Registry) error {
	varconPath := filepath.Join(cfg.Out, vaseconfig.OutputName(cfg.Varcon, "varcon.txt"))
	f, err := os.Create(varconPath)
	if err != nil {
		return errors.E(err, "run: creating varcon output:", varconPath)
	}
	defer f.Close()
	if err := registry.WriteVarcon(f); err != nil {
		return err
	}

	statsPath := filepath.Join(cfg.Out, "varconstats.txt")
	sf, err := os.Create(statsPath)
	if err != nil {
		return errors.E(err, "run: creating varconstats output:", statsPath)
	}
	defer sf.Close()
	return registry.WriteVarconStats(sf)
}
