package main

import (
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/bagsnap/internal/app/run"
	"github.com/John-Robertt/bagsnap/internal/config"
	"github.com/John-Robertt/bagsnap/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端的进度输出。
//
// 约束：
// - 只写 w（stderr 或 fallback 到 stdout），不污染 stdout 的 JSON 契约
// - 单个大文件下载可能很久：长时间无输出时定期打印一行 keepalive
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	total     int
	done      int
	committed int
	discarded int
	fail      int

	current        string
	currentStarted time.Time

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 10 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startedAt.IsZero() {
		p.startedAt = now
	}
	p.total = len(eff.Resources)

	fmt.Fprintf(p.w, "[%s] %s run\n", now.Format("15:04:05"), appName)
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  root: %s\n", eff.Root)
	if eff.ConfigFile != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigFile)
	} else {
		fmt.Fprintln(p.w, "  config: (内置资源表)")
	}
	fmt.Fprintf(p.w, "  timeout: %s\n", eff.Timeout)
	if eff.MaxBytes > 0 {
		fmt.Fprintf(p.w, "  max_bytes: %s\n", formatSize(eff.MaxBytes))
	}
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	fmt.Fprintf(p.w, "  resources: %s\n", resourceNames(eff.Resources))
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
	if p.total > 0 && !p.tickerStarted {
		p.startTickerLocked()
	}
}

func (p *progressUI) OnItemStart(idx, total int, res domain.Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = res.Name
	p.currentStarted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, item domain.ItemResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total
	p.current = ""

	switch item.Status {
	case domain.StatusCommitted:
		p.committed++
		fmt.Fprintf(p.w, "[%d/%d] %s NEW %s %s (%s)\n",
			idx, total, item.Resource, filepath.Base(item.Path), formatSize(item.Size), formatShortDuration(dur),
		)
	case domain.StatusDiscarded:
		p.discarded++
		fmt.Fprintf(p.w, "[%d/%d] %s SAME (与 %s 相同) (%s)\n",
			idx, total, item.Resource, filepath.Base(item.Previous), formatShortDuration(dur),
		)
	default:
		p.fail++
		fmt.Fprintf(p.w, "[%d/%d] %s FAIL %s: %s (%s)\n",
			idx, total, item.Resource, item.ErrorCode, truncate(item.ErrorMsg, 160), formatShortDuration(dur),
		)
	}
	p.lastPrinted = time.Now()

	if p.done >= p.total {
		p.stopLocked()
	}
}

// stop 可重复调用；CLI 在运行结束后总会调用一次。
func (p *progressUI) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *progressUI) stopLocked() {
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stopCh := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 10 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if time.Since(p.lastPrinted) > threshold {
					p.printProgressLocked()
				}
				p.mu.Unlock()
			case <-stopCh:
				return
			}
		}
	}()
}

func (p *progressUI) printProgressLocked() {
	cur := "-"
	if p.current != "" {
		cur = fmt.Sprintf("%s（%s）", p.current, formatElapsed(time.Since(p.currentStarted)))
	}
	fmt.Fprintf(p.w, "进度: done=%d/%d new=%d same=%d fail=%d current=%s elapsed=%s\n",
		p.done, p.total, p.committed, p.discarded, p.fail, cur, formatElapsed(time.Since(p.startedAt)),
	)
	p.lastPrinted = time.Now()
}

func resourceNames(rs []domain.Resource) string {
	if len(rs) == 0 {
		return "(无)"
	}
	names := make([]string, 0, len(rs))
	for _, r := range rs {
		names = append(names, r.Name)
	}
	return strings.Join(names, ", ")
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 3; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGT"[exp])
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
