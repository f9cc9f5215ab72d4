package config

import "time"

// Duration は "200ms" のような文字列で書ける時間
//
// YAML と TOML の両方で同じ表記を使うため TextUnmarshaler を実装する。
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

// Std は time.Duration に変換する
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
