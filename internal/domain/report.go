package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusCommitted = "committed"
	StatusDiscarded = "discarded"
	StatusFailed    = "failed"
)

const (
	ErrCodeLinkNotFound   = "link_not_found"
	ErrCodeFetchFailed    = "fetch_failed"
	ErrCodeIOFailed       = "io_failed"
	ErrCodeTargetConflict = "target_conflict"
	ErrCodeCanceled       = "canceled"
	ErrCodeConfigNotFound = "config_not_found"
	ErrCodeConfigInvalid  = "config_invalid"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	Root string `json:"root"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Items   []ItemResult  `json:"items"`
}

type ReportSummary struct {
	Committed int `json:"committed"`
	Discarded int `json:"discarded"`
	Failed    int `json:"failed"`
}

type ItemResult struct {
	Resource string `json:"resource"`
	Source   string `json:"source"`
	// Resolved 是从页面解析出的下载地址（直接 URL 的资源与 Source 相同）。
	Resolved string `json:"resolved"`

	Status   string `json:"status"`
	Path     string `json:"path"`
	Previous string `json:"previous"`
	Size     int64  `json:"size"`

	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) items 稳定排序：按 resource 字典序；resource=="" 的合成条目排在最后
// 3) summary 由 items 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if r.Items == nil {
		r.Items = []ItemResult{}
	}

	sort.SliceStable(r.Items, func(i, j int) bool {
		a := r.Items[i].Resource
		b := r.Items[j].Resource
		if a == "" || b == "" {
			return a != "" && b == ""
		}
		return a < b
	})

	var s ReportSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusCommitted:
			s.Committed++
		case StatusDiscarded:
			s.Discarded++
		case StatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
// 当前只是透传 encoding/json 的默认行为。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
