package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/songzhibin97/workflow-fsm/loader"
	"github.com/songzhibin97/workflow-fsm/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Check definition files without starting the server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			if err := validateFile(path); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d definitions invalid", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateFile(path string) error {
	def, err := loader.LoadFile(path)
	if err != nil {
		return err
	}
	if def.ID == "" {
		return fmt.Errorf("definition id is required")
	}
	return workflow.Validate(def)
}
