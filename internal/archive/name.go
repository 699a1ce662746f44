package archive

import (
	"net/url"
	"path"
	"strings"
)

// NameHint 从下载地址推导归档文件名的基础部分：URL path 的最后一段（已反转义）。
// query/fragment 不参与；推导不出时返回 fallback。
func NameHint(rawURL, fallback string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fallback
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return fallback
	}
	base = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return -1
		}
		return r
	}, base)
	base = strings.TrimSpace(base)
	if base == "" || base == ".." {
		return fallback
	}
	return base
}

// withSuffix 保证归档文件名以 suffix 结尾，否则提交后的快照不会被下一次比较看到。
func withSuffix(hint, suffix string) string {
	if suffix == "" || strings.HasSuffix(hint, suffix) {
		return hint
	}
	return hint + suffix
}
