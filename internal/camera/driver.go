package camera

import "time"

// V4L2のケーパビリティフラグ
const (
	CapVideoCapture uint32 = 0x00000001
	CapStreaming    uint32 = 0x04000000
)

// Capability はQUERYCAPの結果
type Capability struct {
	Driver       string
	Card         string
	BusInfo      string
	Capabilities uint32
}

// CanStream はmmapストリーミングによる撮影に対応しているか
func (c Capability) CanStream() bool {
	return c.Capabilities&CapVideoCapture != 0 && c.Capabilities&CapStreaming != 0
}

// Driver はカーネルのビデオキャプチャ境界を抽象化する
//
// Device はこのインターフェースだけを通してデバイスを操作する。
// 実機では V4L2Driver、テストでは MockDriver を使う。
type Driver interface {
	// Open はデバイスを開いてケーパビリティを返す
	Open(path string) (Capability, error)

	// SetInput は入力番号を選択する
	SetInput(index int) error

	// SetFormat は画像フォーマットを要求し、ドライバーが受け入れた値を返す
	SetFormat(f Format) (Format, error)

	// SetFrameRate はフレームレートを要求し、受け入れられた値を返す
	SetFrameRate(fps int) (int, error)

	// RequestBuffers はmmapバッファを要求し、実際に確保された数を返す
	RequestBuffers(count int) (int, error)

	// MapBuffer は指定インデックスのバッファをマップする
	MapBuffer(index int) ([]byte, error)

	// UnmapBuffer はマップしたバッファを解放する
	UnmapBuffer(buf []byte) error

	// Queue はバッファをカーネルに投入する
	Queue(index int) error

	// Dequeue は埋まったバッファを取り出す。timeout 内に来なければ ErrNoFrame を返す
	Dequeue(timeout time.Duration) (index int, bytesUsed int, err error)

	StreamOn() error
	StreamOff() error

	SetControl(id ControlID, value int32) error
	GetControl(id ControlID) (int32, error)

	Close() error
}

// DriverFactory は新しい Driver を生成する
type DriverFactory func() Driver
