package archive

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/John-Robertt/bagsnap/internal/domain"
)

// captureLayout 是快照文件名前缀的时间格式（分钟精度，字典序即时间序）。
const captureLayout = "2006-01-02_15-04"

// SnapshotName 构造归档文件名：<YYYY-MM-DD_HH-MM>_<hint>。
func SnapshotName(t time.Time, hint string) string {
	return t.Format(captureLayout) + "_" + hint
}

// ParseCaptureTime 从文件名前缀解析捕获时间（按本地时区）。
// 不符合 <YYYY-MM-DD_HH-MM>_ 形态的文件名返回 false（视为外来/历史文件）。
func ParseCaptureTime(name string) (time.Time, bool) {
	n := len(captureLayout)
	if len(name) <= n || name[n] != '_' {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(captureLayout, name[:n], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// List 列出 dir 下后缀为 suffix 的快照，按捕获顺序升序。
//
// 规则：
// - 只看普通文件；目录、符号链接、以 '.' 开头的文件（含暂存文件）一律忽略
// - suffix 为空表示不过滤
// - 文件名带时间前缀的快照排在最后，按 (时间, 文件名) 排序
// - 其余外来文件排在前面，按 (mtime, 文件名) 排序
// - dir 不存在：返回空列表
//
// 因此最后一个元素就是“最新快照”：只要存在带时间前缀的快照，就不再看 mtime。
func List(dir, suffix string) ([]domain.Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Snapshot{}, nil
		}
		return nil, err
	}

	out := make([]domain.Snapshot, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, suffix) {
			continue
		}
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}

		s := domain.Snapshot{
			Name:       name,
			Path:       filepath.Join(dir, name),
			Size:       info.Size(),
			CapturedAt: info.ModTime(),
		}
		if t, ok := ParseCaptureTime(name); ok {
			s.CapturedAt = t
			s.FromName = true
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.FromName != b.FromName {
			return !a.FromName
		}
		if !a.CapturedAt.Equal(b.CapturedAt) {
			return a.CapturedAt.Before(b.CapturedAt)
		}
		return a.Name < b.Name
	})
	return out, nil
}

// Latest 返回 dir 下最新的快照；没有任何快照时 ok=false。
func Latest(dir, suffix string) (s domain.Snapshot, ok bool, err error) {
	all, err := List(dir, suffix)
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	if len(all) == 0 {
		return domain.Snapshot{}, false, nil
	}
	return all[len(all)-1], true, nil
}
