package camera

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ControlID はV4L2コントロールID
type ControlID uint32

// UVCカメラで使う主なコントロール
const (
	ControlBrightness   ControlID = 0x00980900
	ControlContrast     ControlID = 0x00980901
	ControlSaturation   ControlID = 0x00980902
	ControlGain         ControlID = 0x00980913
	ControlSharpness    ControlID = 0x0098091b
	ControlAutoExposure ControlID = 0x009a0901
	ControlExposure     ControlID = 0x009a0902
	ControlFocus        ControlID = 0x009a090a
	ControlAutoFocus    ControlID = 0x009a090c
)

var controlNames = map[ControlID]string{
	ControlBrightness:   "brightness",
	ControlContrast:     "contrast",
	ControlSaturation:   "saturation",
	ControlGain:         "gain",
	ControlSharpness:    "sharpness",
	ControlAutoExposure: "auto_exposure",
	ControlExposure:     "exposure",
	ControlFocus:        "focus",
	ControlAutoFocus:    "auto_focus",
}

// String は既知のコントロール名、なければ16進表記を返す
func (c ControlID) String() string {
	if name, ok := controlNames[c]; ok {
		return name
	}
	return fmt.Sprintf("0x%08x", uint32(c))
}

// ParseControl はコントロール名または16進/10進のIDを解釈する
func ParseControl(s string) (ControlID, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "_")
	for id, name := range controlNames {
		if name == key {
			return id, nil
		}
	}
	v, err := strconv.ParseUint(key, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownControl, s)
	}
	return ControlID(v), nil
}

// ControlNames は既知のコントロール名を名前順で返す
func ControlNames() []string {
	names := make([]string, 0, len(controlNames))
	for _, name := range controlNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
