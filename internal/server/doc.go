// Package server は、スキャナーのセッションをHTTPで操作するためのサーバーを提供します。
//
// 責務:
//   - モードの切り替えと一時停止・停止
//   - カメラコントロールの設定（1台または全台）
//   - メッシュの生成・保存・読み込み
//   - 最新フレームのJPEG取得とMJPEG配信
//
// 仕様:
//   - ルーティングには gin を使用
//   - グレースフルシャットダウンに対応
package server
