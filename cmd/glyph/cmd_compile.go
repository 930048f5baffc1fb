package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCompileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <file>",
		Short: "Compile a source file into content-addressed kernels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSetup(cmd)
			if err != nil {
				return err
			}
			form, err := parseFile(args[0])
			if err != nil {
				return err
			}
			man, err := s.loadManifest()
			if err != nil {
				return err
			}
			c, err := s.newCompiler(man)
			if err != nil {
				return err
			}

			res, err := c.Compile(cmd.Context(), form)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, u := range res.Units {
				if u.Err != nil {
					fmt.Fprintf(out, "%-8s %s: %v\n", u.Disposition, u.Name, u.Err)
					continue
				}
				fmt.Fprintf(out, "%-8s %s %s refs=%d %s\n",
					u.Disposition, u.Name, u.Hash.Prefix(8), u.Refs, u.ArtifactPath)
			}
			for _, skip := range res.Skipped {
				fmt.Fprintf(out, "skipped  %v\n", skip)
			}

			hits, lowered, failed := res.Counts()
			fmt.Fprintf(out, "form %s: %d kernel(s), %d reference(s), %d hit, %d lowered, %d failed\n",
				res.FormHash.Prefix(8), len(res.Units), res.References(), hits, lowered, failed)
			if failed > 0 {
				return fmt.Errorf("compile: %d kernel(s) failed", failed)
			}
			return nil
		},
	}
}
