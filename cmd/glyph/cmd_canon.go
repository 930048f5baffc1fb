package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glyphtools/glyph/pkg/sexp"
)

func newCanonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "canon <file>",
		Short: "Print the canonical form and content digest of a source file",
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

			canon := sexp.Canonicalize(form, s.cfg.CanonOptions())
			fmt.Fprintln(cmd.OutOrStdout(), sexp.Print(canon))
			fmt.Fprintln(cmd.OutOrStdout(), sexp.Hash(canon))
			return nil
		},
	}
}
