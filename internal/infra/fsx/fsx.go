package fsx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// 通过可替换的函数指针，让测试能稳定模拟 EXDEV 等错误。
var renameFunc = os.Rename

// compareChunk 是逐块比较文件内容时每次读取的字节数。
const compareChunk = 64 * 1024

// PathTypeConflictError 表示目标路径类型冲突（例如期望目录但实际是文件）。
// 上层可把它映射为 error_code=target_conflict。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// CrossDeviceError 表示跨盘（EXDEV）导致的 rename 失败。
// 暂存文件总是建在归档目录内，出现 EXDEV 说明目录本身被挂载点切开；不做 copy+delete。
type CrossDeviceError struct {
	Src string
	Dst string
	Err error
}

func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("跨盘移动失败（EXDEV）：%q -> %q；暂存文件与目标必须在同一文件系统：%v", e.Src, e.Dst, e.Err)
}

func (e *CrossDeviceError) Unwrap() error { return e.Err }

// IsCrossDevice 判断 err 是否为跨盘（EXDEV）错误。
func IsCrossDevice(err error) bool {
	var e *CrossDeviceError
	return errors.As(err, &e)
}

// Rename 封装 os.Rename，并把 EXDEV 显式标记为 CrossDeviceError。
func Rename(src, dst string) error {
	if err := renameFunc(src, dst); err != nil {
		if isEXDEV(err) {
			return &CrossDeviceError{Src: src, Dst: dst, Err: err}
		}
		return err
	}
	return nil
}

// RenameNoOverwrite 把 src 移动到 dst，但 dst 已存在时拒绝执行。
//
// 约束：
// - dst 是目录/非普通文件：返回 PathTypeConflictError
// - dst 是普通文件：返回包装了 os.ErrExist 的错误
// - 检查与 rename 之间没有锁；同一目录只允许单写者
// - 失败时不删除 src，由调用方清理
func RenameNoOverwrite(src, dst string) error {
	if err := checkFree(dst); err != nil {
		return err
	}
	return Rename(src, dst)
}

func checkFree(dst string) error {
	fi, err := os.Lstat(dst)
	if err == nil {
		if fi.IsDir() {
			return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
		}
		if !fi.Mode().IsRegular() {
			return &PathTypeConflictError{Path: dst, Want: "regular file", Got: fi.Mode().Type().String()}
		}
		return fmt.Errorf("目标文件已存在：%q：%w", dst, os.ErrExist)
	}
	if !os.IsNotExist(err) {
		return err
	}
	return nil
}

// EnsureDir 确保 dir 存在且是目录（不存在则连同父目录一起创建）。
func EnsureDir(dir string) error {
	fi, err := os.Stat(dir)
	if err == nil {
		if fi.IsDir() {
			return nil
		}
		return &PathTypeConflictError{Path: dir, Want: "dir", Got: "file"}
	}
	if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// StageFile 在 dir 下创建临时文件并完整写入 data，返回其路径。
//
// - 文件名由 pattern 决定（同 os.CreateTemp），调用方负责让它与正式文件名区分开
// - 返回前已 Sync + Close；任何一步失败都会删除临时文件
// - 权限固定为 0644（CreateTemp 默认 0600）
func StageFile(dir, pattern string, data []byte) (path string, err error) {
	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = writeAll(tmp, data); err != nil {
		return "", err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return "", err
	}
	if err = tmp.Sync(); err != nil {
		return "", err
	}
	if err = tmp.Close(); err != nil {
		return "", err
	}
	return tmpName, nil
}

// SameContent 逐字节比较两个文件的内容。
//
// 大小不同可以直接判定“不同”；大小相同时必须读完全部内容才能判定“相同”
// （上游文件可能内容变化但大小不变）。
func SameContent(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()

	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	ia, err := fa.Stat()
	if err != nil {
		return false, err
	}
	ib, err := fb.Stat()
	if err != nil {
		return false, err
	}
	if ia.Size() != ib.Size() {
		return false, nil
	}

	bufA := make([]byte, compareChunk)
	bufB := make([]byte, compareChunk)
	for {
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)
		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		doneA, err := readDone(errA)
		if err != nil {
			return false, err
		}
		doneB, err := readDone(errB)
		if err != nil {
			return false, err
		}
		if doneA || doneB {
			// 两边读到的字节一致，只有同时结束才算相同（大小在比较期间被改写时会不同时结束）。
			return doneA == doneB, nil
		}
	}
}

func readDone(err error) (bool, error) {
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true, nil
	default:
		return false, err
	}
}

// WriteFileAtomicReplace 在 dir 下原子写入 name（临时文件 + rename），同名文件会被覆盖。
// 只用于 report.json 这类可覆盖的内部产物；归档快照走 RenameNoOverwrite。
func WriteFileAtomicReplace(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// 临时文件前缀带 '.'，避免被当作正式产物。
	tmpName, err := StageFile(dir, "."+name+".tmp-*", data)
	if err != nil {
		return err
	}
	if err := Rename(tmpName, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	_ = SyncDir(dir)
	return nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// SyncDir 对目录做 fsync，让 rename 结果落盘。best-effort：调用方通常忽略错误。
func SyncDir(dir string) error {
	// Windows 上目录 Sync 的语义与支持情况不稳定，这里直接跳过。
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
