package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/syssam/persist"
	"github.com/syssam/persist/config"
	"github.com/syssam/persist/factory"
)

// ValidationResult holds the validation results of every variant.
type ValidationResult struct {
	Valid    bool            `json:"valid"`
	Variants []VariantResult `json:"variants"`
}

// VariantResult holds the validation result of one variant.
type VariantResult struct {
	Name        string      `json:"name"`
	Valid       bool        `json:"valid"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	Violations  []Violation `json:"violations,omitempty"`
	Warnings    []string    `json:"warnings,omitempty"`
	// Error is set when the build failed for a reason other than a violation.
	Error string `json:"error,omitempty"`
}

// Violation is one invalid configuration.
type Violation struct {
	Entity   string `json:"entity"`
	Property string `json:"property,omitempty"`
	Reason   string `json:"reason"`
	Message  string `json:"message"`
}

func (r *ValidationResult) errors() int {
	n := 0
	for _, v := range r.Variants {
		n += len(v.Violations)
		if v.Error != "" {
			n++
		}
	}
	return n
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "validate <mapping.yaml>",
		Short: "Validate every session factory variant of a mapping file",
		Long: `Build every variant of a mapping file and report its guard violations and warnings.

With --watch the file is validated again whenever it changes, until interrupted.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runValidate(rootOpts, args[0], cmd)
			if !watch {
				return err
			}
			return watchFile(cmd.Context(), args[0], func() {
				rootOpts.formatter(cmd).VerboseLog("%s changed", args[0])
				_ = runValidate(rootOpts, args[0], cmd)
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "validate again on every change of the file")
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	f, err := config.Load(path)
	if err != nil {
		_ = out.Error(CodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load mapping", err)
	}
	out.VerboseLog("Loaded %d entities and %d variants from %s", len(f.Entities), len(f.VariantNames()), path)

	res := Validate(f, opts.logger(out.errWriter()))
	if res.Valid {
		if out.JSON() {
			return out.Success(res)
		}
		printValidation(out, res)
		fmt.Fprintln(out.Writer, "✓ All variants valid")
		return nil
	}
	msg := fmt.Sprintf("validation failed with %d error(s)", res.errors())
	if out.JSON() {
		_ = out.Failure(res, firstCode(res), msg)
	} else {
		printValidation(out, res)
		fmt.Fprintln(out.Writer, "✗ Validation failed")
	}
	return NewExitError(ExitFailure, msg)
}

// Validate builds every variant of f and collects the results.
func Validate(f *config.File, opts ...factory.Option) *ValidationResult {
	res := &ValidationResult{Valid: true}
	for _, name := range f.VariantNames() {
		vr := VariantResult{Name: name, Valid: true}
		sf, err := f.Build(name, nil, opts...)
		if err != nil {
			vr.Valid, res.Valid = false, false
			if vr.Violations = violations(err); vr.Violations == nil {
				vr.Error = err.Error()
			}
		} else {
			vr.Fingerprint = sf.Fingerprint()
			for _, w := range sf.Configuration().Warnings() {
				vr.Warnings = append(vr.Warnings, w.String())
			}
		}
		res.Variants = append(res.Variants, vr)
	}
	return res
}

// violations returns the violations err consists of, or nil if it holds
// anything else.
func violations(err error) []Violation {
	errs := []error{err}
	var agg *persist.AggregateError
	if errors.As(err, &agg) {
		errs = agg.Errors
	}
	var vs []Violation
	for _, e := range errs {
		var ice *persist.InvalidConfigurationError
		if !errors.As(e, &ice) {
			return nil
		}
		vs = append(vs, Violation{
			Entity:   ice.Entity,
			Property: ice.Property,
			Reason:   string(ice.Reason),
			Message:  ice.Message,
		})
	}
	return vs
}

func printValidation(out *OutputFormatter, res *ValidationResult) {
	for _, v := range res.Variants {
		mark := "✓"
		if !v.Valid {
			mark = "✗"
		}
		fmt.Fprintf(out.Writer, "%s %s\n", mark, v.Name)
		for _, vi := range v.Violations {
			subject := vi.Entity
			if vi.Property != "" {
				subject += "." + vi.Property
			}
			fmt.Fprintf(out.Writer, "  - %s %s: %s\n", vi.Reason, subject, vi.Message)
		}
		if v.Error != "" {
			fmt.Fprintf(out.Writer, "  - %s\n", v.Error)
		}
		for _, w := range v.Warnings {
			fmt.Fprintf(out.Writer, "  ! %s\n", w)
		}
	}
}

func firstCode(res *ValidationResult) string {
	for _, v := range res.Variants {
		if len(v.Violations) > 0 {
			return v.Violations[0].Reason
		}
		if v.Error != "" {
			return CodeBuild
		}
	}
	return CodeBuild
}

// watchFile calls onChange whenever path is written or replaced, until ctx
// is done. The directory is watched so editors that replace the file on
// save are followed.
func watchFile(ctx context.Context, path string, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return WrapExitError(ExitCommandError, "watch mapping", err)
	}
	defer w.Close()
	target, err := filepath.Abs(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "watch mapping", err)
	}
	if err := w.Add(filepath.Dir(target)); err != nil {
		return WrapExitError(ExitCommandError, "watch mapping", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(ev.Name)
			if err != nil || name != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				onChange()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return WrapExitError(ExitCommandError, "watch mapping", err)
		}
	}
}
