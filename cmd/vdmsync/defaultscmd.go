package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newDefaultsCmd(a *app) *cobra.Command {
	var unset []string

	cmd := &cobra.Command{
		Use:   "defaults [key=value ...]",
		Short: "Show or change the per-user job defaults",
		Long: `Show or change the job defaults kept in defaults.json. Without
arguments the current defaults are printed. Arguments of the form
key=value set a default; values parse as JSON first and fall back to a
plain string.`,
		Example: `  vdmsync defaults
  vdmsync defaults sds_root=/data/sds priority=5
  vdmsync defaults --unset request_limit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults, err := a.home.LoadDefaults(a.logger)
			if err != nil {
				return err
			}

			changed := false
			for _, arg := range args {
				key, raw, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("expected key=value, got %q", arg)
				}
				var value any
				if err := json.Unmarshal([]byte(raw), &value); err != nil {
					value = raw
				}
				defaults[key] = value
				changed = true
			}
			for _, key := range unset {
				delete(defaults, key)
				changed = true
			}

			if changed {
				if err := a.home.SaveDefaults(defaults); err != nil {
					return err
				}
			}

			data, err := json.MarshalIndent(defaults, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&unset, "unset", nil, "remove a defaults key")

	return cmd
}
