package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"Fanvault/core/transcode"
	"Fanvault/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioStat   string
	minioBucket string
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `列出转码输出 (默认前缀 processed/) 并汇总大小，或查看单个对象的元数据。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		store, err := storage.NewMinioStore(ctx, cfg)
		if err != nil {
			return err
		}
		bucket := store.Bucket(minioBucket)
		out := cmd.OutOrStdout()

		if minioStat != "" {
			info, err := bucket.Stat(ctx, minioStat)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "key:          %s\n", info.Key)
			fmt.Fprintf(out, "size:         %s (%d bytes)\n", storage.FormatSize(info.Size), info.Size)
			fmt.Fprintf(out, "content-type: %s\n", info.ContentType)
			fmt.Fprintf(out, "etag:         %s\n", info.ETag)
			fmt.Fprintf(out, "modified:     %s\n", info.LastModified.Format(time.RFC3339))
			return nil
		}

		objects, stats, err := storage.Usage(ctx, bucket, minioPrefix)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tSIZE\tMODIFIED")
		for _, o := range objects {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", o.Key, storage.FormatSize(o.Size), o.LastModified.Format(time.RFC3339))
		}
		tw.Flush()
		fmt.Fprintf(out, "\n%s/%s: %d objects, %s\n", bucket.BucketName(), minioPrefix, stats.TotalObjects, storage.FormatSize(stats.TotalSize))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", transcode.ProcessedPrefix, "按前缀过滤文件")
	minioCmd.Flags().StringVar(&minioStat, "stat", "", "查看单个对象的元数据")
	minioCmd.Flags().StringVarP(&minioBucket, "bucket", "b", "", "存储桶 (默认 MINIO_BUCKET)")

	minioCmd.Example = `  # 列出所有转码输出
  fanvault minio

  # 只看某个资源
  fanvault minio -p processed/a1/

  # 查看单个对象
  fanvault minio --stat processed/a1/a1_720p.mp4`
}
