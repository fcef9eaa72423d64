// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

/*
vase-builder builds a synthetic paired-end validation dataset by
excising acceptor reads that overlap donor variant contexts and
substituting the corresponding donor reads, recording every context it
builds (or reloads) in a variant context registry.
*/

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"

	"github.com/grailbio/bio/vase/vaseconfig"
	"github.com/grailbio/bio/vase/run"
)

var (
	runMode     = flag.String("runmode", "", "Run mode: A, AC, D, DC, F, FC, P, PC, X, XC")
	templateFQ1 = flag.String("templatefq1", "", "Acceptor (template) R1 FASTQ lane(s), gzipped; comma- or space-separated in lane order")
	templateFQ2 = flag.String("templatefq2", "", "Acceptor (template) R2 FASTQ lane(s), gzipped; comma- or space-separated in lane order")
	donorFastqs = flag.String("donorfastqs", "", "Comma-separated list of donor FASTQ paths, alternating R1,R2 per sample")
	donorVCF    = flag.String("donorvcf", "", "Comma-separated list of donor VCF paths, one per sample")
	donorBAM    = flag.String("donorbam", "", "Comma-separated list of donor BAM paths, one per sample, aligned with -donorvcf")
	acceptorBAM = flag.String("acceptorbam", "", "Acceptor (template) BAM path")
	reference   = flag.String("reference", "", "Reference FASTA path")
	out         = flag.String("out", "", "Output directory")
	fastqOut    = flag.String("fastqout", "", "Output FASTQ file name prefix (default VaSe)")
	varcon      = flag.String("varcon", "", "Output variant context registry file name (default varcon.txt)")
	varconIn    = flag.String("varconin", "", "Input variant context registry file, for *C run modes")
	variantList = flag.String("variantlist", "", "Optional file restricting varconin reload to the listed context ids")
	logPath     = flag.String("log", "", "Log file or directory; stored in the run config only, no log file is written (messages go to the standard grail log output)")
)

func vaseBuilderUsage() {
	fmt.Printf("Usage: %s [OPTIONS]\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func main() {
	flag.Usage = vaseBuilderUsage
	shutdown := grail.Init()
	defer shutdown()

	cfg := &vaseconfig.Config{
		RunMode:     vaseconfig.Mode(strings.ToUpper(*runMode)),
		TemplateFQ1: *templateFQ1,
		TemplateFQ2: *templateFQ2,
		DonorFastqs: splitList(*donorFastqs),
		DonorVCF:    splitList(*donorVCF),
		DonorBAM:    splitList(*donorBAM),
		AcceptorBAM: *acceptorBAM,
		Reference:   *reference,
		Out:         *out,
		FastqOut:    *fastqOut,
		Varcon:      *varcon,
		VarconIn:    *varconIn,
		VariantList: *variantList,
		Log:         *logPath,
	}

	ctx := vcontext.Background()
	if err := run.Run(ctx, cfg); err != nil {
		log.Panicf("%v", err)
	}
	log.Debug.Printf("exiting")
}
