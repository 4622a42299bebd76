package main

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ivlev/nletimeline/internal/backend"
	"github.com/ivlev/nletimeline/internal/director"
	"github.com/ivlev/nletimeline/internal/engine"
	"github.com/ivlev/nletimeline/internal/timeline"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var snapshotDir string
	var renderPath string
	var commit bool

	cmd := &cobra.Command{
		Use:   "run [script]",
		Short: "Apply an edit script to a new timeline",
		Long: "Apply an edit script to a new timeline and report the outcome of every step.\n" +
			"Without an argument the newest script of ./" + defaultScriptDir + " is used.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []engine.Option
			if snapshotDir != "" {
				opts = append(opts, engine.WithBackend(backend.Files{Dir: snapshotDir}))
			}
			p, results, err := ctx.runScript(cmd, args, opts...)
			if p != nil {
				defer p.Close()
			}
			out := cmd.OutOrStdout()
			if len(results) > 0 {
				fmt.Fprintln(out, renderTable(
					[]string{"#", "Op", "Element", "Created", "Outcome"},
					stepRows(results),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				))
			}
			if err != nil {
				return err
			}

			if commit {
				if err := p.Commit(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(out, "[+] Timeline committed")
			}
			if renderPath != "" {
				if err := writeSnapshot(p, renderPath, nil); err != nil {
					return err
				}
				fmt.Fprintf(out, "[+] Snapshot written to %s\n", renderPath)
			}
			fmt.Fprintf(out, "[+] %d steps applied, the timeline lasts %s\n",
				len(results), timeline.FormatTime(p.Timeline().Duration()))
			return nil
		},
	}

	cmd.Flags().StringVar(&snapshotDir, "snapshots", "", "Also write every committed track as YAML into this directory")
	cmd.Flags().StringVar(&renderPath, "render", "", "Write a PNG snapshot of the final timeline")
	cmd.Flags().BoolVar(&commit, "commit", false, "Commit the timeline once the script ran")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show [script]",
		Short: "Print the layers and clips a script produces",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := ctx.runScript(cmd, args)
			if p != nil {
				defer p.Close()
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			tl := p.Timeline()

			fmt.Fprintln(out, renderTable(
				[]string{"Layer", "Clip", "Asset", "Start", "End", "In-point", "Effects"},
				clipRows(tl),
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			if rows := trackRows(tl); len(rows) > 0 {
				fmt.Fprintln(out, renderTable(
					[]string{"Track", "Type", "Elements"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight},
				))
			}
			if groups := tl.Groups(); len(groups) > 0 {
				fmt.Fprintf(out, "[*] Groups: %d\n", len(groups))
			}
			fmt.Fprintf(out, "[*] Auto-transitions: %d | Duration: %s\n",
				len(tl.AutoTransitions()), timeline.FormatTime(tl.Duration()))
			return nil
		},
	}
}

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "render [script]",
		Short: "Draw the timeline a script produces as a PNG",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := ctx.runScript(cmd, args)
			if p != nil {
				defer p.Close()
			}
			if err != nil {
				return err
			}
			if err := writeSnapshot(p, output, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[+] Snapshot written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "timeline.png", "Destination PNG file")
	return cmd
}

func writeSnapshot(p *engine.Project, path string, thumbs map[string]image.Image) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := p.Render(f, thumbs); err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	return f.Close()
}

func stepRows(results []director.StepResult) [][]string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		outcome := "ok"
		if r.Err != nil {
			outcome = r.Err.Error()
		}
		rows = append(rows, []string{strconv.Itoa(r.Index), string(r.Op), r.Name, r.Created, outcome})
	}
	return rows
}

func clipRows(tl *timeline.Timeline) [][]string {
	var rows [][]string
	for _, l := range tl.Layers() {
		for _, c := range l.Clips() {
			asset := "-"
			if a := c.Asset(); a != nil {
				asset = a.Variant.String()
				if a.URI != "" {
					asset += " " + a.URI
				}
			}
			var effects []string
			for _, fx := range c.TopEffects() {
				effects = append(effects, fx.Name())
			}
			rows = append(rows, []string{
				strconv.FormatUint(uint64(l.Priority()), 10),
				c.Name(),
				asset,
				timeline.FormatTime(c.Start()),
				timeline.FormatTime(c.End()),
				timeline.FormatTime(c.Inpoint()),
				strings.Join(effects, ", "),
			})
		}
	}
	return rows
}

func trackRows(tl *timeline.Timeline) [][]string {
	var rows [][]string
	for _, t := range tl.Tracks() {
		snap := t.Snapshot()
		rows = append(rows, []string{t.Name(), snap.Type, strconv.Itoa(len(snap.Elements))})
	}
	return rows
}
