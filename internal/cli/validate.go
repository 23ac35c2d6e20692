package cli

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/swarm/internal/swarm/config"
	"github.com/wesleyorama2/swarm/internal/swarm/scenario"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "validate",
		Short:   "Check a test definition without running it",
		Example: `  swarm validate --config shop.yaml`,
		RunE:    runValidate,
	}
	cmd.Flags().StringP("config", "c", "", "Test definition file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("config")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	noColor, _ := cmd.Flags().GetBool("no-color")

	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	if noColor {
		ok.DisableColor()
		bad.DisableColor()
	}
	out := cmd.OutOrStdout()

	cfg, err := config.LoadConfig(path)
	if err == nil {
		var s *scenario.Scenario
		s, err = scenario.Build(cfg)
		if err == nil {
			fmt.Fprintf(out, "%s %s is valid: %d user classes (%d runnable), %d task sets\n",
				ok.Sprint("✓"), path, len(s.Classes), len(s.Runnable()), len(s.TaskSets))
			return nil
		}
	}

	var verrs *config.ValidationErrors
	if errors.As(err, &verrs) {
		fmt.Fprintf(out, "%s %s has %d problem(s):\n", bad.Sprint("✗"), path, len(verrs.Errors))
		for _, e := range verrs.Errors {
			fmt.Fprintf(out, "  - %s\n", e.Error())
		}
		return fmt.Errorf("invalid config %s", path)
	}
	fmt.Fprintf(out, "%s %v\n", bad.Sprint("✗"), err)
	return err
}
