// Package server は、カメラウォールのHTTPサーバーを管理します。
//
// このパッケージは、カメラワーカーの起動と停止、ルーティング、
// トークン認証、MJPEGストリームの配信を担当します。
//
// 責務:
//   - HTTPサーバー(gin)の起動とグレースフルシャットダウン
//   - カメラワーカー群の起動と停止
//   - 閲覧トークンの検証とアクセスログの記録
//   - 全画面表示用ページ(/wall)の配信
//   - グリッド合成画像のMJPEGストリーム(/stream)とスナップショットの配信
//   - Prometheusメトリクス(/metrics)の公開
//
// 仕様:
//   - ストリームは接続毎に独立したエンコーダーで生成する
//   - クライアント切断またはシャットダウンでストリームを終了する
//   - トークン管理APIは管理キーが設定されている場合のみ保護する
package server
