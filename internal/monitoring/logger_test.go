package monitoring

import (
	"fmt"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	defer SetLogger(log.Printf)

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("デバイス %s を開始", "/dev/video0")
	assert.Equal(t, []string{"デバイス /dev/video0 を開始"}, got)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("無視される %d", 1) })
	assert.Len(t, got, 1)
}
