package main

import (
	"fmt"
	"image"

	"github.com/spf13/cobra"

	"github.com/ivlev/nletimeline/internal/engine"
	"github.com/ivlev/nletimeline/internal/source"
	"github.com/ivlev/nletimeline/internal/system"
	"github.com/ivlev/nletimeline/internal/timeline"
)

// defaultInputDir is searched for the newest document when the slideshow
// command gets no input.
const defaultInputDir = "input"

func newSlideshowCommand(ctx *commandContext) *cobra.Command {
	var effect string
	var renderPath string
	var thumbnails bool

	cmd := &cobra.Command{
		Use:   "slideshow [pdf|image|dir]",
		Short: "Build a cross-faded slideshow timeline from a document",
		Long: "Build a timeline holding one image clip per page of a PDF or per image,\n" +
			"with a cross-fade between consecutive pages, and commit it.\n" +
			"Without an argument the newest document of ./" + defaultInputDir + " is used.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			input := ""
			if len(args) > 0 {
				input = args[0]
			} else {
				latest, err := system.FindLatest(defaultInputDir, system.DocumentExtensions)
				if err != nil {
					return fmt.Errorf("%w: put a PDF or images into %s/", err, defaultInputDir)
				}
				input = latest
				fmt.Fprintf(out, "[*] Selected input: %s\n", input)
			}

			src, err := source.Open(input)
			if err != nil {
				return fmt.Errorf("open %s: %w", input, err)
			}
			defer src.Close()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if effect != "" {
				cfg.Slideshow.Effect = effect
			}
			log, err := ctx.logger()
			if err != nil {
				return err
			}
			p, err := engine.NewProject(cfg, log)
			if err != nil {
				return err
			}
			defer p.Close()

			fmt.Fprintf(out, "[*] Source: %s | Pages: %d | Page: %s | Fade: %s\n",
				input, src.PageCount(), timeline.FormatTime(cfg.Slideshow.PageDuration.Std()),
				timeline.FormatTime(cfg.Slideshow.Fade.Std()))

			layer, err := p.Slideshow(cmd.Context(), src)
			if err != nil {
				return err
			}
			if err := p.Commit(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(out, "[+] Layer %d: %d pages, %d cross-fades, %s\n",
				layer.Priority(), src.PageCount(), len(p.Timeline().AutoTransitions()),
				timeline.FormatTime(p.Timeline().Duration()))

			if renderPath == "" {
				return nil
			}
			var thumbs map[string]image.Image
			if thumbnails {
				rowHeight := cfg.Render.RowHeight
				if thumbs, err = p.Thumbnails(cmd.Context(), src, rowHeight*2, rowHeight); err != nil {
					return err
				}
			}
			if err := writeSnapshot(p, renderPath, thumbs); err != nil {
				return err
			}
			fmt.Fprintf(out, "[+] Snapshot written to %s\n", renderPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&effect, "effect", "", "Effect added to every page (see the effects command)")
	cmd.Flags().StringVar(&renderPath, "render", "", "Write a PNG snapshot of the slideshow timeline")
	cmd.Flags().BoolVar(&thumbnails, "thumbnails", true, "Draw page thumbnails in the snapshot")
	return cmd
}
