package chat

import (
	"os"
	"testing"

	"vibechat/internal/pkg/logx"
)

func TestMain(m *testing.M) {
	logx.Silence()
	os.Exit(m.Run())
}
