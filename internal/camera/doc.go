// Package camera はV4L2カメラデバイスの撮影とデバイス群の管理を担う
//
// # 責務
// - V4L2デバイスのオープン、フォーマットとフレームレートの設定
// - mmapバッファの確保・投入・取り出し・再投入・解放
// - YUYV / MJPEG / RGB24 からRGB24への変換
// - フレームレートに合わせた撮影ペースの維持
// - 複数デバイスの登録順での一括開始・停止・撮影・コントロール設定
// - /dev/video* の検出
//
// # 仕様
// - Device: 1台分のハンドル。失敗したデバイスはエラー状態になり撮影対象から外れる
// - Manager: 登録順のデバイス群。追加は開始前のみ
// - Driver: カーネル境界。V4L2Driver（ioctl + mmap）と MockDriver
// - バッファは常に free / queued / filled のいずれか一つの状態にある
// - 自動リトライは行わない
//
// # 前提要件
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
