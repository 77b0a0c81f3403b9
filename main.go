package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"nvrwall/internal/config"
	"nvrwall/internal/logging"
	"nvrwall/internal/rtsp"
	"nvrwall/internal/server"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("設定の読み込みに失敗しました")
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	// サーバーを作成
	srv, err := server.New(cfg, rtsp.Factory)
	if err != nil {
		log.Fatal().Err(err).Msg("サーバーの作成に失敗しました")
	}

	// サーバーを起動
	if err := srv.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("サーバーの起動に失敗しました")
	}
}
