// Package fetch 把一个 URL 下载为完整的字节序列。
package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/John-Robertt/bagsnap/internal/infra/httpx"
)

// Fetcher 是下载的最小接口：给定 URL，返回完整响应体。
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher 用 *http.Client 实现 Fetcher。
//
// 约束：
// - 只发 GET，重定向由 client 跟随
// - 非 2xx 返回 *HTTPStatusError；网络/读取失败返回 *Error
// - 不重试、不做断点续传
type HTTPFetcher struct {
	Client *http.Client
	// MaxBytes > 0 时限制响应体大小；0 表示不限制。
	MaxBytes int64
}

func New(c *http.Client, maxBytes int64) *HTTPFetcher {
	return &HTTPFetcher{Client: c, MaxBytes: maxBytes}
}

// NewHTTP 按 httpx 策略（代理/UA/超时）构造 client，再包成 HTTPFetcher。
func NewHTTP(opts httpx.Options, maxBytes int64) (*HTTPFetcher, error) {
	c, err := httpx.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return New(c, maxBytes), nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, u string) ([]byte, error) {
	if f.Client == nil {
		return nil, errors.New("http client 不能为空")
	}
	u = strings.TrimSpace(u)
	if u == "" {
		return nil, errors.New("下载地址为空")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &Error{URL: u, Err: err}
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &Error{URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{URL: u, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}

	b, err := readBody(resp.Body, f.MaxBytes)
	if err != nil {
		return nil, &Error{URL: u, Err: err}
	}
	return b, nil
}

func readBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	// 多读 1 字节用于判断是否超限。
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, &TooLargeError{Limit: limit}
	}
	return b, nil
}
