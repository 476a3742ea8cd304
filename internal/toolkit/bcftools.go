package toolkit

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/afpanel/internal/model"
)

// BcftoolsConfig locates the external binaries.
type BcftoolsConfig struct {
	Path      string // default "bcftools"
	TabixPath string // when set, Index runs tabix instead of bcftools index
	Reference string // FASTA passed to norm -f
	Threads   int
	TempDir   string
}

// Runner executes one external command.
type Runner func(ctx context.Context, name string, args ...string) error

// Bcftools is a Toolkit backed by the bcftools binary.
type Bcftools struct {
	cfg BcftoolsConfig
	run Runner
}

var _ Toolkit = (*Bcftools)(nil)

// NewBcftools returns a Bcftools toolkit that runs commands with exec.
func NewBcftools(cfg BcftoolsConfig) *Bcftools {
	if cfg.Path == "" {
		cfg.Path = "bcftools"
	}
	return &Bcftools{cfg: cfg, run: execRunner}
}

// WithRunner replaces the command runner.
func (b *Bcftools) WithRunner(run Runner) *Bcftools {
	b.run = run
	return b
}

func execRunner(ctx context.Context, name string, args ...string) error {
	zap.L().Debug("exec", zap.String("cmd", name), zap.Strings("args", args))
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return eris.Wrapf(err, "toolkit: %s %s: %s", name, firstArg(args), strings.TrimSpace(stderr.String()))
	}
	return nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func outputType(path string) string {
	if strings.HasSuffix(path, ".gz") {
		return "z"
	}
	return "v"
}

func (b *Bcftools) threads(args []string) []string {
	if b.cfg.Threads > 0 {
		return append(args, "--threads", strconv.Itoa(b.cfg.Threads))
	}
	return args
}

// Index implements Toolkit with a CSI index, the format Native writes.
func (b *Bcftools) Index(ctx context.Context, path string) (string, error) {
	var err error
	if b.cfg.TabixPath != "" {
		err = b.run(ctx, b.cfg.TabixPath, "-C", "-f", "-p", "vcf", path)
	} else {
		err = b.run(ctx, b.cfg.Path, "index", "-c", "-f", path)
	}
	if err != nil {
		return "", err
	}
	return path + IndexSuffix, nil
}

// Normalize implements Toolkit.
func (b *Bcftools) Normalize(ctx context.Context, in, out string) error {
	if b.cfg.Reference == "" {
		return eris.New("toolkit: bcftools normalize needs a reference")
	}
	args := b.threads([]string{"norm", "-m", "-any", "-f", b.cfg.Reference, "-d", "exact",
		"-O" + outputType(out), "-o", out})
	return b.run(ctx, b.cfg.Path, append(args, in)...)
}

// Merge implements Toolkit. Inputs must be indexed.
func (b *Bcftools) Merge(ctx context.Context, inputs []string, out string) error {
	if len(inputs) == 0 {
		return eris.New("toolkit: merge needs at least one input")
	}
	list := out + ".list"
	if err := os.WriteFile(list, []byte(strings.Join(inputs, "\n")+"\n"), 0o644); err != nil {
		return eris.Wrap(err, "toolkit: write merge list")
	}
	defer os.Remove(list) //nolint:errcheck

	args := b.threads([]string{"merge", "-0", "-m", "none", "-l", list, "-O" + outputType(out), "-o", out})
	if err := b.run(ctx, b.cfg.Path, args...); err != nil {
		return mergeError(err)
	}
	return nil
}

var refPrefixesDiffer = regexp.MustCompile(`REF prefixes differ: (\S+) vs (\S+)`)

// mergeError maps the bcftools report of incompatible REF alleles to a
// MergeConflictError. Other errors pass through.
func mergeError(err error) error {
	m := refPrefixesDiffer.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}
	return &model.MergeConflictError{
		Alleles: []string{m[1], m[2]},
		Reason:  "reference alleles disagree",
	}
}

// fillTags are the fill-tags expressions producing the aggregate keys.
var fillTags = []string{
	"AN", "AC", "AF", "MAF", "NS", "AC_Hom", "AC_Het", "AC_Hemi",
	`N_HOM_ALT:1=int(N_PASS(GT="AA"))`,
	`N_HET:1=int(N_PASS(GT="het"))`,
	`N_HEMI:1=int(N_PASS(GT="A"))`,
}

// Annotate implements Toolkit through the fill-tags plugin.
func (b *Bcftools) Annotate(ctx context.Context, in, out string) error {
	args := []string{"+fill-tags", in, "-O" + outputType(out), "-o", out,
		"--", "-t", strings.Join(fillTags, ",")}
	return b.run(ctx, b.cfg.Path, args...)
}

// Sort implements Toolkit.
func (b *Bcftools) Sort(ctx context.Context, in, out string) error {
	args := []string{"sort", "-O" + outputType(out), "-o", out}
	if b.cfg.TempDir != "" {
		args = append(args, "-T", b.cfg.TempDir)
	}
	return b.run(ctx, b.cfg.Path, append(args, in)...)
}
