package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"Fanvault/core/delivery"
	"Fanvault/core/player"
	"Fanvault/logger"
	"Fanvault/server"

	"github.com/spf13/cobra"
)

var (
	playAsset     string
	playPrincipal string
	playInitial   string
	playDuration  time.Duration
	playInterval  time.Duration
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "无界面播放一个媒体，观察自适应码率切换",
	Long: `以指定主体身份播放媒体：每个清晰度的地址都经过鉴权与签名 URL 缓存，
预加载实际下载渲染文件的开头以测量带宽，播放结束后打印切换历史。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := server.NewApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer app.Close(context.Background())

		src := delivery.RenditionSource{
			Service:     app.Delivery,
			PrincipalID: playPrincipal,
			AssetID:     playAsset,
			ExpiresIn:   cfg.URLDefaultExpiry,
		}
		renditions, err := src.Ladder(ctx)
		if err != nil {
			return err
		}
		initial, err := initialRendition(renditions, playInitial)
		if err != nil {
			return err
		}

		url, err := src.RenditionURL(ctx, initial)
		if err != nil {
			return err
		}
		network := player.NewNetworkEstimator()
		preloader := &player.HTTPPreloader{Network: network}
		first := player.Source{Label: initial, URL: url}
		if err := preloader.Preload(ctx, first, 0); err != nil {
			return err
		}

		headless := player.NewHeadless(renditions, first, network, nil)
		session := player.NewSession(playAsset, initial, headless, preloader, src, network, player.SessionConfig{
			Decision:       player.DefaultConfig(renditions),
			SampleInterval: playInterval,
		})
		logger.Info("headless playback started",
			logger.String("assetId", playAsset),
			logger.String("principal", playPrincipal),
			logger.String("initial", initial))
		session.Start()

		select {
		case <-time.After(playDuration):
		case <-ctx.Done():
		}
		session.Close()

		printHistory(cmd.OutOrStdout(), session.History(), session.Snapshot(), headless.Position())
		return nil
	},
}

// initialRendition picks want, or the lowest rung when want is empty.
func initialRendition(renditions []player.Rendition, want string) (string, error) {
	if want == "" {
		return renditions[0].Label, nil
	}
	for _, r := range renditions {
		if r.Label == want {
			return want, nil
		}
	}
	return "", fmt.Errorf("rendition %q is not available for this asset", want)
}

func printHistory(out io.Writer, history []player.SwitchRecord, st player.State, position time.Duration) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tFROM\tTO\tREASON\tRESULT")
	for _, h := range history {
		result := "ok"
		if !h.OK {
			result = "failed: " + h.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", h.At.Format("15:04:05.000"), h.From, h.To, h.Reason, result)
	}
	w.Flush()

	fmt.Fprintf(out, "\n%d switch(es), playing %s at %s", len(history), st.Current, position.Truncate(time.Millisecond))
	if st.Override != "" {
		fmt.Fprintf(out, " (pinned %s)", st.Override)
	}
	fmt.Fprintln(out)
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().StringVar(&playAsset, "asset", "", "媒体 ID")
	playCmd.Flags().StringVar(&playPrincipal, "principal", "", "以该主体身份请求地址")
	playCmd.Flags().StringVar(&playInitial, "initial", "", "起播清晰度，默认最低档")
	playCmd.Flags().DurationVar(&playDuration, "duration", time.Minute, "播放时长")
	playCmd.Flags().DurationVar(&playInterval, "interval", time.Second, "采样间隔")
	playCmd.MarkFlagRequired("asset")
	playCmd.MarkFlagRequired("principal")

	playCmd.Example = `  fanvault play --asset a1 --principal u42
  fanvault play --asset a1 --principal fan7 --initial 720p --duration 2m`
}
