package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glyphtools/glyph/pkg/kernel"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify every indexed artifact against its content digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSetup(cmd)
			if err != nil {
				return err
			}
			man, err := s.loadManifest()
			if err != nil {
				return err
			}
			if man.Len() == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "ok: index is empty")
				return nil
			}

			bad := 0
			for _, e := range man.Entries() {
				if verr := man.Verify(e, s.store, kernel.Hasher{}); verr != nil {
					bad++
					fmt.Fprintf(cmd.OutOrStdout(), "corrupt: %s (%s): %v\n", e.Name, e.Hash.Prefix(8), verr)
				}
			}
			if bad > 0 {
				return fmt.Errorf("verify: %d of %d artifact(s) failed", bad, man.Len())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: verified %d artifact(s)\n", man.Len())
			return nil
		},
	}
}
