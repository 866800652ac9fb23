package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/AwesomeGRV/ErrorBudget/internal/slo"
)

func main() {
	if err := Run(context.Background(), os.Args, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

// Run runs the CLI.
func Run(_ context.Context, args []string, stdout, stderr io.Writer) error {
	app := kingpin.New("slo-cli", "Service catalog tooling for the error budget server.")
	app.DefaultEnvars()

	validateCmd := app.Command("validate", "Validate the service catalog YAML files in a directory.")
	validateDir := validateCmd.Flag("dir", "Directory containing catalog YAML files.").Required().ExistingDir()

	cmd, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	switch cmd {
	case validateCmd.FullCommand():
		return runValidate(*validateDir, stdout, stderr)
	}
	return nil
}

func runValidate(dir string, stdout, stderr io.Writer) error {
	v, err := slo.NewValidator()
	if err != nil {
		return fmt.Errorf("failed to initialize validator: %w", err)
	}

	files, errs := v.ValidateDirectory(dir)
	if len(errs) == 0 {
		fmt.Fprintf(stdout, "✓ All catalog files are valid (%d file(s))\n", len(files))
		return nil
	}

	byFile := make(map[string][]slo.ValidationError)
	for _, e := range errs {
		byFile[e.File] = append(byFile[e.File], e)
	}
	names := make([]string, 0, len(byFile))
	for f := range byFile {
		names = append(names, f)
	}
	sort.Strings(names)

	fmt.Fprintf(stderr, "✗ Validation failed with %d error(s):\n\n", len(errs))
	for _, f := range names {
		for _, e := range byFile[f] {
			if e.Path != "" {
				fmt.Fprintf(stderr, "%s: %s: %s\n", filepath.Base(e.File), e.Path, e.Message)
			} else {
				fmt.Fprintf(stderr, "%s: %s\n", filepath.Base(e.File), e.Message)
			}
		}
	}

	return fmt.Errorf("catalog is invalid")
}
