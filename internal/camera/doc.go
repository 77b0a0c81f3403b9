// Package camera IPカメラからのフレーム取得と共有状態の管理を担う
//
// # 責務
// - チャンネル毎のワーカーによるフレームの継続取得
// - 接続失敗・信号断からの自動再接続
// - 最新フレームと状態を保持する FrameStore の提供
// - ワーカー群のライフサイクル管理
//
// # 仕様
//   - Worker: 1チャンネルにつき1つ。connecting → online → (lost signal | failed to open) → connecting を繰り返す
//   - FrameStore: 単一のミューテックスで保護された「最新値のみ」のテーブル
//   - Manager: ワーカー群の起動は冪等で、並行に呼び出しても重複起動しない
//   - 信号断の後も最後に取得したフレームは保持し続ける（状態のみ更新）
//
// FrameSource の実装（RTSPデコード）は rtsp パッケージにある。
// このパッケージ自体は映像のデコードを行わない。
package camera
