package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/glyphtools/glyph/pkg/config"
)

func main() {
	root := &cobra.Command{
		Use:   "glyph",
		Short: "Content-addressed compiler and runtime for symbolic forms",
	}
	root.PersistentFlags().String("config", config.DefaultFile, "project configuration file")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newCanonCmd())
	root.AddCommand(newCompileCmd())
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newWatchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "glyph 0.1.0-dev")
		},
	}
}
