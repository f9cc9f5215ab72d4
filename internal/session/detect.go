package session

import "scanrig/internal/camera"

// BrightSpotDetector は行ごとに閾値以上の明るさを持つ画素の重心を投影点とみなす
type BrightSpotDetector struct {
	Threshold uint8
	RowStep   int // 何行おきに調べるか（0なら1）
}

// Detect はフレーム中の投影点を返す
func (d BrightSpotDetector) Detect(f camera.Frame) []Point2 {
	step := d.RowStep
	if step <= 0 {
		step = 1
	}
	if len(f.Data) < f.Width*f.Height*3 {
		return nil
	}

	var points []Point2
	for y := 0; y < f.Height; y += step {
		row := f.Data[y*f.Width*3 : (y+1)*f.Width*3]
		var sum, weight float64
		for x := 0; x < f.Width; x++ {
			lum := luminance(row[x*3], row[x*3+1], row[x*3+2])
			if lum < d.Threshold {
				continue
			}
			w := float64(lum)
			sum += w * float64(x)
			weight += w
		}
		if weight > 0 {
			points = append(points, Point2{X: sum / weight, Y: float64(y)})
		}
	}
	return points
}

// luminance はBT.601の重みで輝度を求める
func luminance(r, g, b uint8) uint8 {
	return uint8((299*int(r) + 587*int(g) + 114*int(b)) / 1000)
}
