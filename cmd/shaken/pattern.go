package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keepmind9/shaken/internal/pattern"
)

var patternCmd = &cobra.Command{
	Use:   "pattern <template> [input]",
	Short: "Compile an argument template and try it against input",
	Long: `Compile an argument template the way the manifest does and show its parts.
When input is given, show what the template extracts from it.

Example:
  shaken pattern "<user> <amount>" "museun 10"`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pattern.Parse(args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "template: %s\n", p)
		for i, part := range p.Parts() {
			fmt.Fprintf(w, "  %d. %-8s %s\n", i+1, part.Kind, part.Name)
		}

		if len(args) < 2 {
			return nil
		}

		ex := p.Extract(args[1])
		fmt.Fprintf(w, "input:    %q\n", args[1])
		fmt.Fprintf(w, "outcome:  %s\n", ex.Outcome)
		for _, part := range p.Parts() {
			v, ok := ex.Bindings[part.Name]
			if !ok {
				continue
			}
			if v.IsList() {
				fmt.Fprintf(w, "  %s = %q\n", part.Name, v.List())
			} else {
				fmt.Fprintf(w, "  %s = %q\n", part.Name, v.String())
			}
		}
		return nil
	},
}
