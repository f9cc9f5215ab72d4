// Package profile は GUVCView 形式のコントロールプロファイルを読み込んで適用する
package profile

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"scanrig/internal/camera"
	"scanrig/internal/monitoring"
)

// Header はプロファイルファイルの先頭にある識別子
const Header = "#V4L2/CTRL"

// ErrNotProfile は先頭が Header で始まらないファイルで返る
var ErrNotProfile = errors.New("GUVCView のプロファイルではありません")

var entryPattern = regexp.MustCompile(`ID\{(0x[0-9a-fA-F]+)\};CHK\{([^}]*)\}=VAL\{(-?\d+)\}`)

// Entry はプロファイル中の1コントロール
type Entry struct {
	ID    camera.ControlID
	Check string // min:max:step:default
	Value int32
}

// Profile は読み込んだプロファイル
type Profile struct {
	Path    string
	Entries []Entry
}

// Parse はプロファイルの内容を解析する。形式の合わない行は飛ばす。
func Parse(data string) (*Profile, error) {
	if !strings.HasPrefix(data, Header) {
		return nil, ErrNotProfile
	}
	p := &Profile{}
	sc := bufio.NewScanner(strings.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		text := sc.Text()
		if !strings.Contains(text, "ID{") {
			continue
		}
		m := entryPattern.FindStringSubmatch(text)
		if m == nil {
			monitoring.Logf("プロファイル %d 行目を解釈できません: %s", line, text)
			continue
		}
		id, err := strconv.ParseUint(m[1], 0, 32)
		if err != nil {
			monitoring.Logf("プロファイル %d 行目のIDが不正です: %v", line, err)
			continue
		}
		value, err := strconv.ParseInt(m[3], 10, 32)
		if err != nil {
			monitoring.Logf("プロファイル %d 行目の値が不正です: %v", line, err)
			continue
		}
		p.Entries = append(p.Entries, Entry{ID: camera.ControlID(id), Check: m[2], Value: int32(value)})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load はファイルからプロファイルを読み込む
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("プロファイル %s を読み込めません: %w", path, err)
	}
	p, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.Path = path
	return p, nil
}

// Target はプロファイルの適用先
type Target interface {
	BroadcastControl(id camera.ControlID, value int32) error
}

// Apply はオートフォーカスを切ってから各コントロールを設定する。
// 失敗したコントロールがあっても残りの設定は続ける。
func (p *Profile) Apply(t Target) error {
	var errs []error
	if err := t.BroadcastControl(camera.ControlAutoFocus, 0); err != nil {
		monitoring.Logf("オートフォーカスを切れません: %v", err)
		errs = append(errs, err)
	}
	for _, e := range p.Entries {
		if err := t.BroadcastControl(e.ID, e.Value); err != nil {
			monitoring.Logf("プロファイルの %s=%d を設定できません: %v", e.ID, e.Value, err)
			errs = append(errs, err)
		}
	}
	monitoring.Logf("プロファイル %s を適用しました (%d 件)", p.Path, len(p.Entries))
	return errors.Join(errs...)
}
