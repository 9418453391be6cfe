package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration for the projects found in the workspace",
	Long: `Detect test setups in the workspace root and its direct subdirectories
(Cargo.toml, package.json with jest or vitest, deno.json, go.mod, composer.json
with phpunit) and write a .assert-lsp.yaml configuring one adapter each.`,
	RunE: runInit,
}

var (
	initForce  bool
	initGlobal bool
	initDryRun bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
	initCmd.Flags().BoolVar(&initGlobal, "global", false, "Write the user configuration instead of the project one")
	initCmd.Flags().BoolVar(&initDryRun, "dry-run", false, "Print the configuration instead of writing it")
}

func runInit(cmd *cobra.Command, _ []string) error {
	root, err := workspaceRoot()
	if err != nil {
		return err
	}

	adapters := config.DetectAdapters(root)
	if len(adapters) == 0 {
		return fmt.Errorf("no test setup detected in %s; supported test kinds: %s",
			root, strings.Join(config.SortedKinds(), ", "))
	}

	data, err := renderConfig(adapters)
	if err != nil {
		return err
	}
	if initDryRun {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	path := config.ProjectConfigPath(root)
	if initGlobal {
		if path, err = config.UserConfigPath(); err != nil {
			return err
		}
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("configuration already exists at %s, use --force to overwrite", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", path, err)
	}

	if err := config.AtomicWrite(path, data); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Wrote", path)
	for _, a := range adapters {
		fmt.Fprintf(out, "  %s  %s\n", a.Name, a.Path)
	}
	fmt.Fprintln(out, "Run 'assert-lsp adapters' to review the result")
	return nil
}

// renderConfig marshals the adapters under the generated-file header.
func renderConfig(adapters []config.AdapterConfig) ([]byte, error) {
	body, err := yaml.Marshal(struct {
		Adapters []config.AdapterConfig `yaml:"adapters"`
	}{adapters})
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return append([]byte(config.DefaultConfigHeader+"\n"), body...), nil
}
