// Package archive 实现“内容变化才归档”：新下载的字节与目录中最新快照逐字节比较，
// 不同则以带时间前缀的文件名提交，相同则丢弃。
package archive

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/John-Robertt/bagsnap/internal/domain"
	"github.com/John-Robertt/bagsnap/internal/infra/fsx"
)

// stagingPattern 是暂存文件名；以 '.' 开头，List 永远不会把它当成快照。
const stagingPattern = ".staging-*.tmp"

const (
	OpPrepare = "prepare"
	OpScan    = "scan"
	OpStage   = "stage"
	OpCompare = "compare"
	OpCommit  = "commit"
	OpDiscard = "discard"
)

// FSError 是归档阶段的文件系统错误，Op 标明失败发生在哪一步。
type FSError struct {
	Op   string
	Path string
	Err  error
}

func (e *FSError) Error() string {
	return fmt.Sprintf("归档失败（%s）：%q：%v", e.Op, e.Path, e.Err)
}

func (e *FSError) Unwrap() error { return e.Err }

// IsConflict 判断失败是否因为目标名被目录或非普通文件占用，顺延上限内仍无空位。
func IsConflict(err error) bool {
	return errors.Is(err, os.ErrExist) || fsx.IsPathTypeConflict(err)
}

// Options 调整 Archiver 行为；零值可用。
type Options struct {
	// Now 提供捕获时间，默认 time.Now（本地时区）。
	Now func() time.Time
	// Logger 默认 slog.Default()。
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Archiver 无跨调用状态；同一目录只支持单写者（没有锁）。
type Archiver struct {
	opts Options
}

func New(opts Options) *Archiver {
	opts.defaults()
	return &Archiver{opts: opts}
}

// ArchiveIfNew 把 content 与 dir 中最新快照比较，内容不同（或还没有快照）时提交。
//
// 约束：
// - 最新快照只在后缀为 suffix 的文件中选取（见 List）
// - content 先完整写入 dir 内的暂存文件，再比较；rename 是唯一的可见变更
// - 提交文件名为 <YYYY-MM-DD_HH-MM>_<nameHint>；nameHint 不以 suffix 结尾时自动补上
// - 捕获时间不早于最新快照的下一分钟；目标文件名已被占用时顺延到下一个空闲分钟，从不覆盖
// - 目标是目录等非普通文件，或顺延 maxStampShift 次仍被占用：返回 Op=commit 的 FSError（IsConflict 为 true）
// - 无论成功失败，暂存文件都不会留在 dir 中
func (a *Archiver) ArchiveIfNew(content []byte, dir, suffix, nameHint string) (domain.Outcome, error) {
	log := a.opts.Logger

	nameHint = strings.TrimSpace(nameHint)
	if nameHint == "" || strings.ContainsAny(nameHint, `/\`) || strings.HasPrefix(nameHint, ".") {
		return domain.Outcome{}, &FSError{Op: OpPrepare, Path: dir, Err: fmt.Errorf("非法文件名：%q", nameHint)}
	}
	nameHint = withSuffix(nameHint, suffix)

	if err := fsx.EnsureDir(dir); err != nil {
		return domain.Outcome{}, &FSError{Op: OpPrepare, Path: dir, Err: err}
	}

	prev, hasPrev, err := Latest(dir, suffix)
	if err != nil {
		return domain.Outcome{}, &FSError{Op: OpScan, Path: dir, Err: err}
	}

	staged, err := fsx.StageFile(dir, stagingPattern, content)
	if err != nil {
		return domain.Outcome{}, &FSError{Op: OpStage, Path: dir, Err: err}
	}

	size := int64(len(content))
	if hasPrev {
		same, err := fsx.SameContent(staged, prev.Path)
		if err != nil {
			dropStaged(staged)
			return domain.Outcome{}, &FSError{Op: OpCompare, Path: prev.Path, Err: err}
		}
		if same {
			if err := os.Remove(staged); err != nil {
				return domain.Outcome{}, &FSError{Op: OpDiscard, Path: staged, Err: err}
			}
			log.Debug("archive: unchanged, discarded", "dir", dir, "latest", prev.Name, "size", size)
			return domain.Outcome{
				Status:   domain.OutcomeDiscarded,
				Path:     prev.Path,
				Previous: prev.Path,
				Size:     size,
			}, nil
		}
	}

	dst, err := commit(staged, dir, nameHint, captureStamp(a.opts.Now(), prev, hasPrev))
	if err != nil {
		dropStaged(staged)
		return domain.Outcome{}, &FSError{Op: OpCommit, Path: dst, Err: err}
	}
	_ = fsx.SyncDir(dir)

	out := domain.Outcome{
		Status: domain.OutcomeCommitted,
		Path:   dst,
		Size:   size,
	}
	if hasPrev {
		out.Previous = prev.Path
	}
	log.Info("archive: committed", "dir", dir, "name", filepath.Base(dst), "size", size, "previous", prev.Name)
	return out, nil
}

// maxStampShift 限制同名顺延的次数。
const maxStampShift = 60

// captureStamp 取分钟精度的捕获时间；若不晚于最新快照的时间前缀，取其下一分钟，
// 保证文件名字典序与提交顺序一致。
func captureStamp(now time.Time, prev domain.Snapshot, hasPrev bool) time.Time {
	stamp := now.Truncate(time.Minute)
	if hasPrev && prev.FromName && !stamp.After(prev.CapturedAt) {
		stamp = prev.CapturedAt.Add(time.Minute)
	}
	return stamp
}

// commit 把暂存文件 rename 为 <stamp>_<hint>；目标已存在（os.ErrExist）时顺延一分钟重试。
func commit(staged, dir, hint string, stamp time.Time) (string, error) {
	var dst string
	for i := 0; ; i++ {
		dst = filepath.Join(dir, SnapshotName(stamp, hint))
		err := fsx.RenameNoOverwrite(staged, dst)
		if err == nil {
			return dst, nil
		}
		if !errors.Is(err, os.ErrExist) || i >= maxStampShift {
			return dst, err
		}
		stamp = stamp.Add(time.Minute)
	}
}

// dropStaged 用于失败路径：此时已有错误要返回，删除失败只能忽略。
func dropStaged(path string) {
	_ = os.Remove(path)
}
