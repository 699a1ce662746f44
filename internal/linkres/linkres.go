// Package linkres 在 HTML 页面中按可见文本定位下载链接。
package linkres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/bagsnap/internal/fetch"
)

// ErrLinkNotFound 可用 errors.Is 判断“页面上没有该标签的链接”。
var ErrLinkNotFound = errors.New("link not found")

// NotFoundError 记录未找到的标签与页面，便于 report 追溯。
type NotFoundError struct {
	Label string
	Page  string
}

func (e *NotFoundError) Error() string {
	if e.Page == "" {
		return fmt.Sprintf("页面中没有文本为 %q 的链接", e.Label)
	}
	return fmt.Sprintf("页面中没有文本为 %q 的链接：%s", e.Label, e.Page)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrLinkNotFound }

// Resolve 返回 page 中第一个可见文本等于 label 的 <a href> 的目标地址。
//
// 规则：
// - 文本比较前折叠空白（首尾去掉，中间连续空白视为一个空格）
// - 没有 href 或 href 为空的锚点不参与匹配
// - base 非空时，href 按 URL 引用规则相对 base 解析；绝对地址原样返回
// - 未找到返回 *NotFoundError（errors.Is(err, ErrLinkNotFound) 为 true）
func Resolve(page []byte, label, base string) (string, error) {
	label = normalizeText(label)
	if label == "" {
		return "", errors.New("label 不能为空")
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("解析页面失败：%w", err)
	}

	var href string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		h := strings.TrimSpace(s.AttrOr("href", ""))
		if h == "" {
			return true
		}
		if normalizeText(s.Text()) != label {
			return true
		}
		href = h
		return false
	})
	if href == "" {
		return "", &NotFoundError{Label: label}
	}
	return absolutize(href, base)
}

// ResolvePage 先抓取 pageURL，再在其中定位 label；base 为空时相对 pageURL 解析。
func ResolvePage(ctx context.Context, f fetch.Fetcher, pageURL, label, base string) (string, error) {
	page, err := f.Fetch(ctx, pageURL)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(base) == "" {
		base = pageURL
	}
	u, err := Resolve(page, label, base)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			nf.Page = pageURL
		}
		return "", err
	}
	return u, nil
}

func absolutize(href, base string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("链接地址非法：%q：%w", href, err)
	}
	base = strings.TrimSpace(base)
	if base == "" || ref.IsAbs() {
		return ref.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("base 地址非法：%q：%w", base, err)
	}
	return b.ResolveReference(ref).String(), nil
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
