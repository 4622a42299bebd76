package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ivlev/nletimeline/internal/effects"
	"github.com/ivlev/nletimeline/internal/system"
)

func newEffectsCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "effects",
		Short:       "List the effects scripts and slideshows can add",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigLoad: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := effects.Default()
			var rows [][]string
			for _, name := range reg.Names() {
				e, _ := reg.Lookup(name)
				rows = append(rows, []string{name, e.TrackType().String()})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Effect", "Track"}, rows, nil))
			return nil
		},
	}
}

func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "info",
		Short:       "Show the host resources used to size commits",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigLoad: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			r := system.HostResources()
			rows := [][]string{
				{"Physical cores", strconv.Itoa(r.PhysicalCores)},
				{"Logical cores", strconv.Itoa(r.LogicalCores)},
				{"Total memory", formatBytes(r.TotalMemory)},
				{"Available memory", formatBytes(r.FreeMemory)},
				{"Commit parallelism", strconv.Itoa(system.DefaultParallelism())},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Resource", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func formatBytes(n uint64) string {
	if n == 0 {
		return "unknown"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
