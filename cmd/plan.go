package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"Fanvault/core/ladder"
	"Fanvault/model"

	"github.com/spf13/cobra"
)

var (
	planWidth  int
	planHeight int
	planLabels []string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "打印转码阶梯计划",
	Long:  `根据源视频分辨率和目标清晰度列出将要生成的 renditions，不会放大超过源分辨率。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		labels := planLabels
		if len(labels) == 0 {
			labels = cfg.TranscodeDefaultLabels
		}
		specs, err := ladder.Plan(planWidth, planHeight, labels)
		if err != nil {
			return err
		}
		printPlan(cmd.OutOrStdout(), planWidth, planHeight, labels, specs)
		return nil
	},
}

func printPlan(out io.Writer, width, height int, requested []string, specs []model.RenditionSpec) {
	fmt.Fprintf(out, "source %dx%d, requested %s\n", width, height, strings.Join(requested, ","))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tSIZE\tBITRATE\tCRF")
	for _, s := range specs {
		fmt.Fprintf(tw, "%s\t%dx%d\t%dk\t%d\n", s.Label, s.Width, s.Height, s.BitrateKbps, s.CRF)
	}
	tw.Flush()
	if skipped := len(requested) - len(specs); skipped > 0 {
		fmt.Fprintf(out, "%d label(s) skipped (unknown, duplicate or above source)\n", skipped)
	}
}

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().IntVar(&planWidth, "width", 1920, "源视频宽度")
	planCmd.Flags().IntVar(&planHeight, "height", 1080, "源视频高度")
	planCmd.Flags().StringSliceVarP(&planLabels, "labels", "l", nil, "目标清晰度，逗号分隔 (默认取 TRANSCODE_DEFAULT_LABELS)")

	planCmd.Example = `  fanvault plan --width 1280 --height 720 -l 240p,480p,720p,1080p`
}
