// Package display holds output helpers shared by CLI commands.
package display

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// ShouldOutputJSON reports whether a command should emit JSON instead of a
// human-readable table, based on the command's --json flag.
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd == nil {
		return false
	}
	if jsonFlag, err := cmd.Flags().GetBool("json"); err == nil {
		return jsonFlag
	}
	return false
}

// OutputJSON pretty-prints v as indented JSON on stdout.
func OutputJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
