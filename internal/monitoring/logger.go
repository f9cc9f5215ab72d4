// Package monitoring はパッケージ横断の診断ログ出力先を提供する
package monitoring

import "log"

// Logf はパッケージ共通の診断ロガー。既定では log.Printf を使い、
// SetLogger で差し替えられる。テストでは出力の抑制や捕捉に使う。
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger はロガーを差し替える。nil を渡すと何も出力しない。
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
