package fetch

import (
	"fmt"
	"strings"
)

// HTTPStatusError 表示站点返回了非 2xx 的 HTTP 状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return fmt.Sprintf("HTTP %d：%s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("HTTP %d：%s location=%s", e.StatusCode, e.URL, loc)
}

// Error 表示网络层/读取 body 失败（连接、超时、超出大小上限等）。
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("下载失败：%s：%v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// TooLargeError 表示响应体超过了 MaxBytes。
type TooLargeError struct {
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("响应体超过上限 %d 字节", e.Limit)
}
