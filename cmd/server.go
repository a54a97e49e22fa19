package cmd

import (
	"Fanvault/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 Fanvault HTTP 服务",
	Long:  `启动 HTTP API：转码任务、媒体 URL/清单解析、安全 URL 签发、任务事件 WebSocket 与 /metrics。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
