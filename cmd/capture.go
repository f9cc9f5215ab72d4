// Package main は1台のカメラからフレームを取り出して保存するコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"scanrig/internal/camera"
	"scanrig/internal/profile"
	"scanrig/internal/snapshot"
	"scanrig/internal/timeutil"
)

// deviceTarget は1台のデバイスをプロファイルの適用先として扱う
type deviceTarget struct {
	dev *camera.Device
}

func (t deviceTarget) BroadcastControl(id camera.ControlID, value int32) error {
	return t.dev.SetControl(id, value)
}

func main() {
	// コマンドラインオプション
	var (
		device  = flag.String("device", "/dev/video0", "カメラデバイス")
		input   = flag.Int("input", -1, "V4L2の入力番号 (-1 で変更しない)")
		width   = flag.Int("width", 1280, "幅")
		height  = flag.Int("height", 720, "高さ")
		fps     = flag.Int("fps", 15, "フレームレート")
		format  = flag.String("format", "YUYV", "ピクセルフォーマット (YUYV / MJPG)")
		frames  = flag.Int("frames", 1, "保存するフレーム数")
		outDir  = flag.String("out", ".", "出力ディレクトリ")
		ext     = flag.String("type", "png", "出力形式 (png / jpg)")
		quality = flag.Int("quality", snapshot.DefaultQuality, "JPEGの品質")
		prof    = flag.String("profile", "", "適用する GUVCView プロファイル")
		help    = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("scanrig capture")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  capture [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	pf, err := camera.ParsePixelFormat(*format)
	if err != nil {
		log.Fatalf("%v", err)
	}
	*ext = strings.ToLower(*ext)
	if *ext != "png" && *ext != "jpg" {
		log.Fatalf("不明な出力形式です: %s", *ext)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings := camera.Settings{
		Width:       *width,
		Height:      *height,
		FPS:         *fps,
		PixelFormat: pf,
		Buffers:     2,
		Input:       *input,
	}
	dev := camera.NewDevice("capture", *device, settings, camera.NewV4L2Driver(), timeutil.RealClock{})
	defer dev.Close()

	if err := dev.Open(); err != nil {
		log.Fatalf("デバイスを開けません: %v", err)
	}
	if *prof != "" {
		p, err := profile.Load(*prof)
		if err != nil {
			log.Fatalf("プロファイルを読み込めません: %v", err)
		}
		if err := p.Apply(deviceTarget{dev: dev}); err != nil {
			log.Printf("プロファイルの一部を適用できません: %v", err)
		}
	}
	if err := dev.Start(); err != nil {
		log.Fatalf("ストリーミングを開始できません: %v", err)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("出力ディレクトリを作成できません: %v", err)
	}

	var lastSeq uint64
	for saved := 0; saved < *frames; {
		if err := dev.CaptureOnce(ctx); err != nil {
			log.Fatalf("撮影に失敗しました: %v", err)
		}
		f := dev.LatestFrame()
		// 待機時間内に届かなかった
		if f.Empty() || f.Sequence == lastSeq {
			continue
		}
		lastSeq = f.Sequence
		saved++
		path := filepath.Join(*outDir, fmt.Sprintf("frame_%04d.%s", f.Sequence, *ext))
		if err := save(path, f, *ext, *quality); err != nil {
			log.Fatalf("%v", err)
		}
		log.Printf("保存しました: %s", path)
	}
}

func save(path string, f camera.Frame, ext string, quality int) error {
	if ext == "jpg" {
		data, err := snapshot.EncodeJPEG(f, quality)
		if err != nil {
			return fmt.Errorf("JPEGエンコードに失敗: %w", err)
		}
		return os.WriteFile(path, data, 0o644)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ファイルを作成できません: %w", err)
	}
	if err := png.Encode(out, camera.RGBImage(f)); err != nil {
		out.Close()
		return fmt.Errorf("PNGエンコードに失敗: %w", err)
	}
	return out.Close()
}
