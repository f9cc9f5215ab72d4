package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scanrig/internal/camera"
	"scanrig/internal/config"
	"scanrig/internal/monitoring"
	"scanrig/internal/profile"
	"scanrig/internal/projector"
	"scanrig/internal/server"
	"scanrig/internal/session"
	"scanrig/internal/timeutil"
)

func main() {
	// コマンドラインオプション
	var (
		configPath = flag.String("config", "", "設定ファイル (.yaml / .toml)")
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		auto       = flag.Bool("auto", false, "設定の代わりに /dev/video* を検出して使う")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("scanrig")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  scanrig [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *auto); err != nil {
		log.Fatalf("%v", err)
	}
}

// run はリグを組み立てて、ctx が終わるかセッションが止まるまで描画ティックを回す
func run(ctx context.Context, cfg *config.Config, auto bool) error {
	clock := timeutil.RealClock{}
	mgr := camera.NewManager(camera.NewV4L2Driver, clock, cfg.DefaultSettings())
	if err := addDevices(ctx, mgr, cfg, auto); err != nil {
		return err
	}

	saved, err := config.LoadDeviceSettings(cfg.Camera.SettingsFile)
	if err != nil {
		monitoring.Logf("保存されたデバイス設定を読み込めません: %v", err)
	} else if err := mgr.RestoreSettings(saved); err != nil {
		monitoring.Logf("保存されたデバイス設定の一部を適用できません: %v", err)
	}

	proj, err := openProjector(cfg.Projector)
	if err != nil {
		_ = mgr.Shutdown()
		return err
	}

	sess := session.New(mgr, nil, nil, proj, session.Options{
		ScanInterval: cfg.Session.ScanInterval.Std(),
		MinTick:      cfg.Session.MinTick.Std(),
		Board:        boardFromConfig(cfg.Chessboard),
		Clock:        clock,
		Store:        config.SettingsStore{Path: cfg.Camera.SettingsFile},
	})
	defer func() {
		if err := sess.Stop(); err != nil {
			monitoring.Logf("セッションの停止中にエラーが発生しました: %v", err)
		}
	}()

	if err := sess.Start(); err != nil {
		return fmt.Errorf("セッションを開始できません: %w", err)
	}
	applyStartupControls(sess, cfg)

	if cfg.Profile.Path != "" {
		if err := applyProfile(ctx, cfg.Profile, sess); err != nil {
			monitoring.Logf("プロファイルを適用できません: %v", err)
		}
	}

	if cfg.Server.Enabled {
		srv := server.New(cfg, sess)
		go func() {
			if err := srv.Start(ctx); err != nil {
				monitoring.Logf("HTTPサーバーが停止しました: %v", err)
			}
		}()
	}

	return present(ctx, sess, cfg.Session.RenderInterval.Std())
}

// addDevices は設定または検出結果のデバイスを登録する。開けないデバイスは
// エラー状態で登録されるだけで、起動は続ける。
func addDevices(ctx context.Context, mgr *camera.Manager, cfg *config.Config, auto bool) error {
	if auto {
		paths, err := camera.NewLinuxDiscovery(camera.NewV4L2Driver).ScanDevices(ctx)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return errors.New("カメラが見つかりません")
		}
		for _, path := range paths {
			if _, err := mgr.AddDevice(path, -1); err != nil {
				monitoring.Logf("デバイス %s を開けません: %v", path, err)
			}
		}
		return nil
	}

	specs := cfg.DeviceSpecs()
	if len(specs) == 0 {
		return errors.New("カメラが設定されていません (-auto で検出できます)")
	}
	for _, spec := range specs {
		if _, err := mgr.Add(spec); err != nil {
			if errors.Is(err, camera.ErrDeviceOpen) || errors.Is(err, camera.ErrFormatNegotiation) {
				monitoring.Logf("デバイス %s を開けません: %v", spec.Path, err)
				continue
			}
			return err
		}
	}
	return nil
}

// openProjector はポートが設定されていればシリアル接続の投影機を、
// なければ位置だけを進める投影機を返す
func openProjector(pc config.ProjectorConfig) (session.Projector, error) {
	if pc.Port == "" {
		return projector.NewDiscard(pc.Width, pc.Height, pc.Step), nil
	}
	p, err := projector.OpenSerial(projector.Options{
		Port:     pc.Port,
		BaudRate: pc.BaudRate,
		Width:    pc.Width,
		Height:   pc.Height,
		Step:     pc.Step,
	})
	if err != nil {
		return nil, fmt.Errorf("投影機を開けません: %w", err)
	}
	return p, nil
}

func boardFromConfig(c config.ChessboardConfig) session.Chessboard {
	return session.Chessboard{
		Cols:       c.Width,
		Rows:       c.Height,
		SquareSize: c.SquareSize,
		MaxImages:  c.MaxImages,
		Interval:   c.Interval.Std(),
	}
}

func applyStartupControls(sess *session.Session, cfg *config.Config) {
	for _, cv := range cfg.StartupControls() {
		// 失敗はセッション側でログに残る
		_ = sess.BroadcastControl(cv.ID, cv.Value)
	}
}

// applyProfile はプロファイルを適用し、必要なら変更を監視する
func applyProfile(ctx context.Context, pc config.ProfileConfig, sess *session.Session) error {
	p, err := profile.Load(pc.Path)
	if err != nil {
		return err
	}
	if err := p.Apply(sess); err != nil {
		monitoring.Logf("プロファイルの一部を適用できません: %v", err)
	}
	if !pc.Watch {
		return nil
	}

	w, err := profile.NewWatcher(pc.Path, sess, profile.DefaultSettle)
	if err != nil {
		return err
	}
	go func() {
		defer w.Close()
		w.Run(ctx)
	}()
	return nil
}

// present は描画ティックを一定間隔で実行する
func present(ctx context.Context, sess *session.Session, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second / 30
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		err := sess.Present(ctx, session.NopSurface{}, session.PointerSample{})
		switch {
		case errors.Is(err, session.ErrStopped):
			// HTTPから停止された
			return nil
		case err != nil && !errors.Is(err, context.Canceled):
			monitoring.Logf("描画ティックでエラーが発生しました: %v", err)
		}
	}
}
