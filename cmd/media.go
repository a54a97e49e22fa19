package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"Fanvault/db"
	"Fanvault/model"
	"Fanvault/repository"

	"github.com/spf13/cobra"
)

var (
	mediaOwner  string
	mediaStatus string
	mediaLimit  int
	mediaOffset int
)

func withMediaRepo(run func(ctx context.Context, repo repository.MediaAssetRepository, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		closeDB, err := openDatabase()
		if err != nil {
			return err
		}
		defer closeDB()
		return run(ctx, repository.NewGormMediaAssetRepository(db.GormDB), cmd.OutOrStdout(), args)
	}
}

var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "媒体资源管理",
	Long:  `登记已上传的原始文件、按所有者或处理状态列出媒体，以及设置缩略图路径。`,
}

var mediaRegisterCmd = &cobra.Command{
	Use:   "register <assetId> <originalPath>",
	Short: "登记一个已上传到对象存储的媒体",
	Args:  cobra.ExactArgs(2),
	RunE:  withMediaRepo(runRegisterMedia),
}

var mediaListCmd = &cobra.Command{
	Use:   "list",
	Short: "按所有者 (最新在前) 或处理状态 (最早在前) 列出媒体",
	Args:  cobra.NoArgs,
	RunE:  withMediaRepo(runListMedia),
}

var mediaThumbnailCmd = &cobra.Command{
	Use:   "thumbnail <assetId> <path>",
	Short: "设置媒体的缩略图路径",
	Args:  cobra.ExactArgs(2),
	RunE:  withMediaRepo(runSetThumbnail),
}

func runRegisterMedia(ctx context.Context, repo repository.MediaAssetRepository, out io.Writer, args []string) error {
	if mediaOwner == "" {
		return errors.New("--owner is required")
	}
	asset := &model.MediaAsset{ID: args[0], OwnerID: mediaOwner, OriginalPath: args[1]}
	if err := repo.Create(ctx, asset); err != nil {
		return fmt.Errorf("register %s: %w", args[0], err)
	}
	kind := string(asset.Kind)
	if kind == "" {
		kind = "unknown"
	}
	fmt.Fprintf(out, "registered %s (%s, %s) for %s\n", asset.ID, kind, asset.Status, asset.OwnerID)
	return nil
}

func runListMedia(ctx context.Context, repo repository.MediaAssetRepository, out io.Writer, args []string) error {
	var (
		assets []*model.MediaAsset
		err    error
	)
	switch {
	case mediaOwner != "" && mediaStatus != "":
		return errors.New("--owner and --status are mutually exclusive")
	case mediaOwner != "":
		assets, err = repo.ListByOwner(ctx, mediaOwner, mediaLimit, mediaOffset)
	case mediaStatus != "":
		assets, err = repo.ListByStatus(ctx, model.ProcessingStatus(mediaStatus), mediaLimit)
	default:
		return errors.New("one of --owner or --status is required")
	}
	if err != nil {
		return err
	}
	printAssets(out, assets)
	return nil
}

func runSetThumbnail(ctx context.Context, repo repository.MediaAssetRepository, out io.Writer, args []string) error {
	if err := repo.SetThumbnail(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(out, "thumbnail for %s set to %s\n", args[0], args[1])
	return nil
}

func printAssets(out io.Writer, assets []*model.MediaAsset) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOWNER\tKIND\tSTATUS\tRENDITIONS\tCREATED")
	for _, a := range assets {
		renditions := "-"
		if a.Manifest != nil {
			renditions = fmt.Sprintf("%d/%d", a.Manifest.SuccessCount(), len(a.Manifest.Renditions))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", a.ID, a.OwnerID, a.Kind, a.Status, renditions, a.CreatedAt.Format(time.RFC3339))
	}
	tw.Flush()
	fmt.Fprintf(out, "\n%d asset(s)\n", len(assets))
}

func init() {
	rootCmd.AddCommand(mediaCmd)
	mediaCmd.AddCommand(mediaRegisterCmd, mediaListCmd, mediaThumbnailCmd)

	mediaRegisterCmd.Flags().StringVar(&mediaOwner, "owner", "", "所有者主体 ID")
	mediaListCmd.Flags().StringVar(&mediaOwner, "owner", "", "按所有者过滤")
	mediaListCmd.Flags().StringVar(&mediaStatus, "status", "", "按处理状态过滤 (pending|processing|completed|failed)")
	mediaListCmd.Flags().IntVar(&mediaLimit, "limit", 50, "最多返回条数")
	mediaListCmd.Flags().IntVar(&mediaOffset, "offset", 0, "跳过条数 (仅 --owner)")

	mediaCmd.Example = `  fanvault media register a1 uploads/a1/clip.mov --owner u42
  fanvault media list --owner u42 --limit 20
  fanvault media list --status failed
  fanvault media thumbnail a1 processed/a1/thumb.jpg`
}
