// Package vaseconfig validates run configuration against the run-mode
// parameter table, adapted from the original tool's ParamChecker: each
// run mode requires a different subset of inputs to be set.
package vaseconfig

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/grailbio/base/errors"
)

// Mode is a run mode. The letter denotes what is built (Acceptor-only,
// Donor-only, Full, Paired, X-mode) and a trailing "C" means "from an
// existing varcon.txt" rather than built fresh.
type Mode string

const (
	ModeA  Mode = "A"
	ModeAC Mode = "AC"
	ModeD  Mode = "D"
	ModeDC Mode = "DC"
	ModeF  Mode = "F"
	ModeFC Mode = "FC"
	ModeP  Mode = "P"
	ModePC Mode = "PC"
	ModeX  Mode = "X"
	ModeXC Mode = "XC"
)

// Config mirrors the full set of command-line parameters ParamChecker
// validates.
type Config struct {
	RunMode Mode

	TemplateFQ1 string
	TemplateFQ2 string
	DonorFastqs []string

	DonorVCF    []string
	DonorBAM    []string
	AcceptorBAM string
	Reference   string

	Out         string
	FastqOut    string
	Varcon      string
	VarconIn    string
	VariantList string

	Log string
}

var requiredParams = map[Mode][]string{
	ModeA:  {"RunMode", "TemplateFQ1", "TemplateFQ2", "DonorFastqs", "VarconIn", "Out"},
	ModeAC: {"RunMode", "TemplateFQ1", "TemplateFQ2", "DonorFastqs", "VarconIn", "Out"},
	ModeD:  {"RunMode", "DonorVCF", "DonorBAM", "AcceptorBAM", "Out", "Reference"},
	ModeDC: {"RunMode", "DonorVCF", "DonorBAM", "Out", "Reference", "VarconIn"},
	ModeF:  {"RunMode", "DonorVCF", "DonorBAM", "AcceptorBAM", "TemplateFQ1", "TemplateFQ2", "Out", "Reference"},
	ModeFC: {"RunMode", "DonorVCF", "DonorBAM", "TemplateFQ1", "TemplateFQ2", "Out", "Reference", "VarconIn"},
	ModeP:  {"RunMode", "DonorVCF", "DonorBAM", "AcceptorBAM", "Out", "Reference"},
	ModePC: {"RunMode", "DonorVCF", "DonorBAM", "Out", "Reference", "VarconIn"},
	ModeX:  {"RunMode", "DonorVCF", "DonorBAM", "AcceptorBAM", "Out", "Reference"},
	ModeXC: {"RunMode", "DonorVCF", "DonorBAM", "Out", "Reference", "VarconIn"},
}

// defaultFastqOut and defaultVarcon mirror ParamChecker's optional
// parameter defaults.
const (
	defaultFastqOut = "VaSe"
	defaultVarcon   = "varcon.txt"
)

// Validate checks that every parameter required by c.RunMode is set,
// and fills in the optional parameters' defaults. It returns an error
// naming every missing parameter at once, not just the first, since
// that is friendlier for a CLI user fixing their invocation.
func Validate(c *Config) error {
	required, ok := requiredParams[c.RunMode]
	if !ok {
		return errors.E("vaseconfig: unknown run mode:", string(c.RunMode))
	}

	var missing []string
	for _, name := range required {
		if isEmpty(c, name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return errors.E("vaseconfig: missing required parameters for mode", string(c.RunMode)+":", strings.Join(missing, ", "))
	}

	if c.FastqOut == "" {
		c.FastqOut = defaultFastqOut
	}
	if c.Varcon == "" {
		c.Varcon = defaultVarcon
	}
	return nil
}

func isEmpty(c *Config, field string) bool {
	switch field {
	case "RunMode":
		return c.RunMode == ""
	case "TemplateFQ1":
		return c.TemplateFQ1 == ""
	case "TemplateFQ2":
		return c.TemplateFQ2 == ""
	case "DonorFastqs":
		return len(c.DonorFastqs) == 0
	case "DonorVCF":
		return len(c.DonorVCF) == 0
	case "DonorBAM":
		return len(c.DonorBAM) == 0
	case "AcceptorBAM":
		return c.AcceptorBAM == ""
	case "Reference":
		return c.Reference == ""
	case "Out":
		return c.Out == ""
	case "VarconIn":
		return c.VarconIn == ""
	}
	return false
}

// IsReloadMode reports whether mode rebuilds contexts from an existing
// varcon.txt ("C" modes) rather than from fresh BAM/VCF input.
func IsReloadMode(m Mode) bool {
	return strings.HasSuffix(string(m), "C")
}

// LogPath resolves the log file location the way ParamChecker does:
// if Log names a directory, the log file is VaSeBuilder.log inside it;
// if Log is empty, the log file is VaSeBuilder.log inside Out.
func LogPath(c *Config) string {
	dir := c.Log
	if dir == "" {
		dir = c.Out
	}
	if filepath.Ext(dir) != "" {
		return dir
	}
	return filepath.Join(dir, "VaSeBuilder.log")
}

// ParseLaneList splits a templatefq1/templatefq2 parameter into its
// per-lane paths, in lane order. The original tool accepts either a
// comma-separated or whitespace-separated list; both are honored here
// by splitting on any run of commas and/or whitespace.
func ParseLaneList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

// OutputName derives a bare output file name from a user-supplied path
// by stripping any directory component, matching
// ParamChecker.get_output_name.
func OutputName(path, fallback string) string {
	if path == "" {
		return fallback
	}
	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) {
		return fallback
	}
	return name
}
