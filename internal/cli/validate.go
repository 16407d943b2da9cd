package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/civicroute/internal/harness"
)

// FileValidation is the validation outcome for one scenario file.
type FileValidation struct {
	File  string `json:"file"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// RenderText implements textRenderer.
func (r ValidationResult) RenderText(w io.Writer) {
	for _, f := range r.Files {
		if f.Valid {
			fmt.Fprintf(w, "✓ %s\n", f.File)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n  %s\n", f.File, f.Error)
	}
	if r.Valid {
		fmt.Fprintf(w, "All %d scenario file(s) valid\n", len(r.Files))
	}
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file-or-dir>...",
		Short: "Validate scenario files without running them",
		Long: `Check scenario files against the scenario schema without running them.

Directories are expanded to the *.yaml and *.yml files they contain.
Unknown keys, malformed durations and invalid step shapes are reported.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("path not found: %s", arg), err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		found, err := findScenarioFiles(arg, "")
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to scan directory", err)
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "no scenario files found", nil)
	}

	result := ValidationResult{Valid: true}
	for _, f := range files {
		formatter.VerboseLog("Validating %s", f)
		fv := FileValidation{File: filepath.ToSlash(f), Valid: true}
		if _, err := harness.LoadScenario(f); err != nil {
			fv.Valid = false
			fv.Error = err.Error()
			result.Valid = false
		}
		result.Files = append(result.Files, fv)
	}

	if result.Valid {
		return formatter.Success(result)
	}

	if err := formatter.Error(ErrCodeInvalidScenario, "scenario validation failed", result); err != nil {
		return err
	}
	if opts.Format != "json" {
		result.RenderText(cmd.OutOrStdout())
	}
	return NewExitError(ExitFailure, "scenario validation failed")
}
