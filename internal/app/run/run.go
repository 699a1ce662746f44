package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/John-Robertt/bagsnap/internal/archive"
	"github.com/John-Robertt/bagsnap/internal/config"
	"github.com/John-Robertt/bagsnap/internal/domain"
	"github.com/John-Robertt/bagsnap/internal/fetch"
	"github.com/John-Robertt/bagsnap/internal/infra/httpx"
	"github.com/John-Robertt/bagsnap/internal/linkres"
)

// Archiver 是 run 依赖的归档能力；*archive.Archiver 即实现。
type Archiver interface {
	ArchiveIfNew(content []byte, dir, suffix, nameHint string) (domain.Outcome, error)
}

// Deps 是可替换的协作者；零值字段按 eff 构造默认实现。
type Deps struct {
	Fetcher  fetch.Fetcher
	Archiver Archiver
	Logger   *slog.Logger
}

// Execute 按配置顺序处理所有资源，并返回对外稳定的 RunReport。
// 单个资源失败只产生一条 failed item，不影响其他资源。
func Execute(ctx context.Context, eff config.EffectiveConfig, deps Deps) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, deps, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer) domain.RunReport {
	if obs != nil {
		obs.OnStart(eff)
	}

	rr := domain.RunReport{
		Root:      eff.Root,
		StartedAt: time.Now().UTC(),
		Items:     make([]domain.ItemResult, 0, len(eff.Resources)),
	}

	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if deps.Fetcher == nil {
		f, err := fetch.NewHTTP(httpx.Options{
			ProxyURL:  eff.ProxyURL,
			Timeout:   eff.Timeout,
			UserAgent: eff.UserAgent,
		}, eff.MaxBytes)
		if err != nil {
			rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeConfigInvalid, fmt.Sprintf("proxy.url 无效：%v", err)))
			rr.FinishedAt = time.Now().UTC()
			rr.Finalize()
			return rr
		}
		deps.Fetcher = f
	}
	if deps.Archiver == nil {
		deps.Archiver = archive.New(archive.Options{Logger: log})
	}

	total := len(eff.Resources)
	for i, res := range eff.Resources {
		if err := ctx.Err(); err != nil {
			item := baseItem(res)
			item.Status = domain.StatusFailed
			item.ErrorCode = domain.ErrCodeCanceled
			item.ErrorMsg = fmt.Sprintf("运行已取消：%v", err)
			rr.Items = append(rr.Items, item)
			if obs != nil {
				obs.OnItemDone(i+1, total, item, 0)
			}
			continue
		}

		if obs != nil {
			obs.OnItemStart(i+1, total, res)
		}
		started := time.Now()
		item := execOne(ctx, res, deps)
		dur := time.Since(started)

		if item.Status == domain.StatusFailed {
			log.Warn("run: resource failed", "resource", res.Name, "error_code", item.ErrorCode, "error", item.ErrorMsg)
		} else {
			log.Debug("run: resource done", "resource", res.Name, "status", item.Status, "path", item.Path, "dur", dur)
		}

		rr.Items = append(rr.Items, item)
		if obs != nil {
			obs.OnItemDone(i+1, total, item, dur)
		}
	}

	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	return rr
}

// execOne 串行执行 resolve -> fetch -> archive；任何一步失败都只影响本资源。
func execOne(ctx context.Context, res domain.Resource, deps Deps) domain.ItemResult {
	item := baseItem(res)

	target := res.URL
	if res.NeedsResolve() {
		u, err := linkres.ResolvePage(ctx, deps.Fetcher, res.Page, res.Label, res.Base)
		if err != nil {
			fillError(&item, err)
			return item
		}
		target = u
		item.Resolved = u
	}

	body, err := deps.Fetcher.Fetch(ctx, target)
	if err != nil {
		fillError(&item, err)
		return item
	}

	hint := res.NameHint
	if hint == "" {
		hint = archive.NameHint(target, res.Name)
	}
	out, err := deps.Archiver.ArchiveIfNew(body, res.Dir, res.Suffix, hint)
	if err != nil {
		fillError(&item, err)
		return item
	}

	if out.Committed() {
		item.Status = domain.StatusCommitted
	} else {
		item.Status = domain.StatusDiscarded
	}
	item.Path = out.Path
	item.Previous = out.Previous
	item.Size = out.Size
	return item
}

func baseItem(res domain.Resource) domain.ItemResult {
	return domain.ItemResult{
		Resource: res.Name,
		Source:   res.Source(),
		Resolved: res.URL,
	}
}

func syntheticFailed(code, msg string) domain.ItemResult {
	return domain.ItemResult{
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
	}
}

// fillError 把错误归类为 report 的 error_code。
func fillError(item *domain.ItemResult, err error) {
	item.Status = domain.StatusFailed
	item.ErrorCode = ErrorCode(err)

	switch item.ErrorCode {
	case domain.ErrCodeFetchFailed:
		item.ErrorMsg = humanizeFetchError(err)
	case domain.ErrCodeTargetConflict:
		item.ErrorMsg = fmt.Sprintf("%v（快照文件名被目录或非普通文件占用，请手动清理）", err)
	default:
		item.ErrorMsg = err.Error()
	}
}

// ErrorCode 返回 err 对应的 error_code。
//
// 规则：
// - linkres.ErrLinkNotFound => link_not_found
// - *archive.FSError：提交时目标已存在 => target_conflict，其余 => io_failed
// - context 取消 => canceled
// - 其他（HTTP 状态、网络、超限）=> fetch_failed
func ErrorCode(err error) string {
	if errors.Is(err, linkres.ErrLinkNotFound) {
		return domain.ErrCodeLinkNotFound
	}
	var fe *archive.FSError
	if errors.As(err, &fe) {
		if fe.Op == archive.OpCommit && archive.IsConflict(err) {
			return domain.ErrCodeTargetConflict
		}
		return domain.ErrCodeIOFailed
	}
	if errors.Is(err, context.Canceled) {
		return domain.ErrCodeCanceled
	}
	return domain.ErrCodeFetchFailed
}

func humanizeFetchError(err error) string {
	var hs *fetch.HTTPStatusError
	if errors.As(err, &hs) {
		switch hs.StatusCode {
		case 403, 429:
			return fmt.Sprintf("%s 返回 HTTP %d（可能触发限流）。建议稍后重试或配置 proxy.url。", hs.URL, hs.StatusCode)
		case 404:
			return fmt.Sprintf("%s 返回 HTTP 404（发布地址可能已变更）。", hs.URL)
		default:
			return hs.Error()
		}
	}

	var tl *fetch.TooLargeError
	if errors.As(err, &tl) {
		return fmt.Sprintf("%v；可调大 max_bytes", err)
	}

	low := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(low, "timeout") {
		return fmt.Sprintf("下载超时：%v。建议检查网络/代理，或调大 timeout。", err)
	}
	if strings.Contains(low, "tls") || strings.Contains(low, "handshake") {
		return fmt.Sprintf("连接失败（TLS/SSL）：%v。建议配置 proxy.url 或稍后重试。", err)
	}
	return err.Error()
}
