package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Recompile a source file whenever it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSetup(cmd)
			if err != nil {
				return err
			}
			target, err := filepath.Abs(args[0])
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

			compileOnce := func() {
				form, err := parseFile(target)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "watch: %v\n", err)
					return
				}
				res, err := c.Compile(cmd.Context(), form)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "watch: %v\n", err)
					return
				}
				hits, lowered, failed := res.Counts()
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d kernel(s), %d hit, %d lowered, %d failed\n",
					filepath.Base(target), len(res.Units), hits, lowered, failed)
			}

			w, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer w.Close()
			// Watch the directory, not the file: editors commonly replace
			// the file by rename, which drops a file-level watch.
			if err := w.Add(filepath.Dir(target)); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			compileOnce()

			var timer *time.Timer
			fire := make(chan struct{}, 1)
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-w.Events:
					if !ok {
						return nil
					}
					if ev.Name != target {
						continue
					}
					if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
						continue
					}
					// Coalesce bursts of events from one save.
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(debounce, func() {
						select {
						case fire <- struct{}{}:
						default:
						}
					})
				case <-fire:
					compileOnce()
				case err, ok := <-w.Errors:
					if !ok {
						return nil
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "watch: %v\n", err)
				}
			}
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "delay before recompiling after a change")
	return cmd
}
