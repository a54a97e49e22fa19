package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"Fanvault/core/transcode"
	"Fanvault/db"
	"Fanvault/model"
	"Fanvault/repository"
	"Fanvault/server"
	"Fanvault/storage"

	"github.com/spf13/cobra"
)

var (
	transcodeBucket string
	transcodeSource string
	transcodeAsset  string
	transcodeLabels []string
)

var transcodeCmd = &cobra.Command{
	Use:   "transcode",
	Short: "运行一次转码任务",
	Long:  `从对象存储下载源视频，逐个生成各清晰度 rendition 并上传，最后打印每个 rendition 的结果。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := storage.NewMinioStore(ctx, cfg)
		if err != nil {
			return err
		}
		if err := db.ConnectGormDB(cfg); err != nil {
			return err
		}
		defer db.CloseGormDB()
		if err := db.AutoMigrateModels(); err != nil {
			return err
		}

		labels := transcodeLabels
		if len(labels) == 0 {
			labels = cfg.TranscodeDefaultLabels
		}

		out := cmd.OutOrStdout()
		sink := transcode.EventSinkFunc(func(e transcode.Event) { printEvent(out, e) })
		runner := server.NewRunner(cfg, store, repository.NewGormMediaAssetRepository(db.GormDB), sink)

		manifest, err := runner.Run(ctx, transcode.Request{
			SourceBucket: transcodeBucket,
			SourcePath:   transcodeSource,
			AssetID:      transcodeAsset,
			TargetLabels: labels,
		})
		if manifest != nil {
			printManifest(out, manifest)
		}
		return err
	},
}

func printEvent(out io.Writer, e transcode.Event) {
	switch e.Type {
	case transcode.EventJobStarted:
		fmt.Fprintf(out, "job %s started, planned %v\n", e.JobID, e.Planned)
	case transcode.EventRenditionDone:
		if e.Rendition.Success {
			fmt.Fprintf(out, "  %s ok (%s)\n", e.Rendition.Label, storage.FormatSize(e.Rendition.SizeBytes))
		} else {
			fmt.Fprintf(out, "  %s failed: %s\n", e.Rendition.Label, e.Rendition.Error)
		}
	case transcode.EventJobDone:
		if e.Error != "" {
			fmt.Fprintf(out, "job %s %s: %s\n", e.JobID, e.Status, e.Error)
		} else {
			fmt.Fprintf(out, "job %s %s\n", e.JobID, e.Status)
		}
	}
}

func printManifest(out io.Writer, m *model.TranscodeManifest) {
	results := make([]model.RenditionResult, 0, len(m.Renditions))
	for _, r := range m.Renditions {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Height < results[j].Height })

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tRESULT\tSIZE\tRATIO\tPATH")
	for _, r := range results {
		if r.Success {
			fmt.Fprintf(tw, "%s\tok\t%s\t%.2f\t%s\n", r.Label, storage.FormatSize(r.SizeBytes), r.CompressionRatio, r.Path)
		} else {
			fmt.Fprintf(tw, "%s\tfailed\t-\t-\t%s\n", r.Label, r.Error)
		}
	}
	tw.Flush()
	fmt.Fprintf(out, "status: %s (%d/%d succeeded)\n", m.Status, m.SuccessCount(), len(m.Renditions))
}

func init() {
	rootCmd.AddCommand(transcodeCmd)

	transcodeCmd.Flags().StringVarP(&transcodeBucket, "bucket", "b", "", "源文件所在存储桶 (默认 MINIO_BUCKET)")
	transcodeCmd.Flags().StringVarP(&transcodeSource, "source", "s", "", "源文件对象路径")
	transcodeCmd.Flags().StringVarP(&transcodeAsset, "asset", "a", "", "媒体资源 ID")
	transcodeCmd.Flags().StringSliceVarP(&transcodeLabels, "labels", "l", nil, "目标清晰度，逗号分隔")
	transcodeCmd.MarkFlagRequired("source")
	transcodeCmd.MarkFlagRequired("asset")

	transcodeCmd.Example = `  fanvault transcode -s uploads/a1/source.mp4 -a a1 -l 240p,480p,720p`
}
