package archive

import (
	"fmt"
	"io"
	"os"

	"github.com/zeebo/xxh3"
)

// Digest 返回文件内容的 xxh3-64 摘要（16 位十六进制）。
// 只用于展示，是否“新内容”永远由逐字节比较决定。
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
