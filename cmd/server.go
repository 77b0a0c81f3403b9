// Package main はNVRウォールサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"nvrwall/internal/config"
	"nvrwall/internal/logging"
	"nvrwall/internal/rtsp"
	"nvrwall/internal/server"
)

func main() {
	// コマンドラインオプション
	var (
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		configPath = flag.String("config", "", "設定ファイル(YAML)のパス (デフォルト: 環境変数 CONFIG_FILE)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("NVR Wall")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	path := *configPath
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		log.Fatal().Err(err).Msg("設定の読み込みに失敗しました")
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("設定が不正です")
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	srv, err := server.New(cfg, rtsp.Factory)
	if err != nil {
		log.Fatal().Err(err).Msg("サーバーの作成に失敗しました")
	}

	// サーバーを起動
	log.Info().
		Str("addr", cfg.ServerAddress()).
		Ints("channels", cfg.NVR.Channels).
		Msg("NVR Wall サーバーを起動します")
	if err := srv.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("サーバーの起動に失敗しました")
	}
}
