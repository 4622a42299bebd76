package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivlev/nletimeline/internal/store"
	"github.com/ivlev/nletimeline/internal/timeline"
)

var errJournalDisabled = errors.New("the commit journal is disabled (set journal.path in the configuration)")

func newJournalCommand(ctx *commandContext) *cobra.Command {
	var project string
	var limit int

	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "List the commits recorded in the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(s *store.Store, defaultProject string) error {
				if project == "" {
					project = defaultProject
				}
				commits, err := s.Commits(cmd.Context(), project, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(commits) == 0 {
					fmt.Fprintf(out, "[*] No commits recorded for %s\n", project)
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Commit", "Timeline", "Status", "Tracks", "Started", "Took", "Error"},
					commitRows(commits),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	journalCmd.Flags().StringVar(&project, "project", "", "Project to list (defaults to journal.project)")
	journalCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of commits to list, 0 for all")

	journalCmd.AddCommand(&cobra.Command{
		Use:   "show <commit>",
		Short: "Print the track snapshots of a commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(s *store.Store, _ string) error {
				snaps, err := s.Snapshots(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Track", "Element", "Kind", "Clip", "Layer", "Start", "Duration", "In-point", "Active"},
					snapshotRows(snaps),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	})

	return journalCmd
}

func (c *commandContext) withStore(fn func(*store.Store, string) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if cfg.Journal.Path == "" {
		return errJournalDisabled
	}
	s, err := store.New(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer s.Close()
	return fn(s, cfg.Journal.Project)
}

func commitRows(commits []store.Commit) [][]string {
	rows := make([][]string, 0, len(commits))
	for _, c := range commits {
		took := "-"
		if !c.Finished.IsZero() {
			took = c.Finished.Sub(c.Started).Round(time.Millisecond).String()
		}
		rows = append(rows, []string{
			c.ID,
			c.Timeline,
			c.Status,
			strconv.Itoa(c.Tracks),
			c.Started.Local().Format(time.DateTime),
			took,
			c.Error,
		})
	}
	return rows
}

func snapshotRows(snaps []timeline.TrackSnapshot) [][]string {
	var rows [][]string
	for _, snap := range snaps {
		if len(snap.Elements) == 0 {
			rows = append(rows, []string{snap.Track, "-", "", "", "", "", "", "", ""})
			continue
		}
		for _, el := range snap.Elements {
			rows = append(rows, []string{
				snap.Track,
				el.Name,
				el.Kind,
				el.Clip,
				strconv.FormatUint(uint64(el.Layer), 10),
				timeline.FormatTime(el.Start),
				timeline.FormatTime(el.Duration),
				timeline.FormatTime(el.Inpoint),
				strconv.FormatBool(el.Active),
			})
		}
	}
	return rows
}
