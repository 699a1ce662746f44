package domain

// Resource 描述一个逻辑上的下载源（同一份文件的周期性发布）。
//
// 约束：URL 与 (Page, Label) 二选一；Dir 已是绝对路径（由 config 解析）。
type Resource struct {
	Name string

	// URL 是直接下载地址。
	URL string

	// Page/Label：先抓取 Page，再按可见文本 Label 找到下载链接。
	// Base 为空时相对链接以 Page 为基准解析。
	Page  string
	Label string
	Base  string

	Dir    string
	Suffix string

	// NameHint 非空时覆盖从 URL 推导出的归档文件名。
	NameHint string
}

// NeedsResolve 表示下载地址需要先从页面中解析出来。
func (r Resource) NeedsResolve() bool {
	return r.URL == "" && r.Page != ""
}

// Source 返回用于展示/报告的来源（直接 URL 或页面 URL）。
func (r Resource) Source() string {
	if r.URL != "" {
		return r.URL
	}
	return r.Page
}
