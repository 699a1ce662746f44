package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/bagsnap/internal/config"
	"github.com/John-Robertt/bagsnap/internal/domain"
)

func TestProgressUI_ItemLines(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressUI(&buf)
	eff := config.EffectiveConfig{
		Root:     "/data",
		Timeout:  time.Minute,
		ProxyURL: "http://user:pw@127.0.0.1:7890",
		Resources: []domain.Resource{
			{Name: "a"}, {Name: "b"}, {Name: "c"},
		},
	}

	p.OnStart(eff)
	p.OnItemStart(1, 3, eff.Resources[0])
	p.OnItemDone(1, 3, domain.ItemResult{Resource: "a", Status: domain.StatusCommitted, Path: "/data/a/2024-03-01_10-00_a.zip", Size: 2048}, time.Second)
	p.OnItemDone(2, 3, domain.ItemResult{Resource: "b", Status: domain.StatusDiscarded, Previous: "/data/b/2024-02-01_09-00_b.zip"}, 0)
	p.OnItemDone(3, 3, domain.ItemResult{Resource: "c", Status: domain.StatusFailed, ErrorCode: domain.ErrCodeLinkNotFound, ErrorMsg: "没有链接"}, 0)
	p.stop()

	p.mu.Lock()
	out := buf.String()
	p.mu.Unlock()

	for _, want := range []string{
		"proxy: on (http://127.0.0.1:7890, auth=on)",
		"resources: a, b, c",
		"[1/3] a NEW 2024-03-01_10-00_a.zip 2.0KiB (1.0s)",
		"[2/3] b SAME (与 2024-02-01_09-00_b.zip 相同)",
		"[3/3] c FAIL link_not_found: 没有链接",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("输出缺少 %q：\n%s", want, out)
		}
	}
	if strings.Contains(out, "pw") {
		t.Fatalf("不应输出代理密码：\n%s", out)
	}
}

func TestProgressUI_StopIsIdempotent(t *testing.T) {
	p := newProgressUI(&bytes.Buffer{})
	p.OnStart(config.EffectiveConfig{Resources: []domain.Resource{{Name: "a"}}})
	p.stop()
	p.stop()
}

func TestFormatSize(t *testing.T) {
	cases := map[int64]string{
		0:       "0B",
		1023:    "1023B",
		1536:    "1.5KiB",
		1 << 20: "1.0MiB",
		5 << 30: "5.0GiB",
	}
	for n, want := range cases {
		if got := formatSize(n); got != want {
			t.Fatalf("formatSize(%d)：期望 %q，实际 %q", n, want, got)
		}
	}
}

func TestWriteSnapshots(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "2024-03-01_10-00_x.zip")
	if err := os.WriteFile(p, []byte("abc"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
	snap := domain.Snapshot{
		Name:       filepath.Base(p),
		Path:       p,
		Size:       3,
		CapturedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local),
		FromName:   true,
	}

	var buf bytes.Buffer
	if err := writeSnapshots(&buf, domain.Resource{Name: "x", Dir: dir}, []domain.Snapshot{snap}, false); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "x (1)") || !strings.Contains(out, "2024-03-01 10:00") || !strings.Contains(out, "3B") {
		t.Fatalf("输出不符合预期：%q", out)
	}

	buf.Reset()
	snap.Path = filepath.Join(dir, "missing")
	if err := writeSnapshots(&buf, domain.Resource{Name: "x", Dir: dir}, []domain.Snapshot{snap}, true); err == nil {
		t.Fatalf("文件不存在时期望错误")
	}
}
