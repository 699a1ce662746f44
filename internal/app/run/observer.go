package run

import (
	"time"

	"github.com/John-Robertt/bagsnap/internal/config"
	"github.com/John-Robertt/bagsnap/internal/domain"
)

// Observer 把运行进度从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）
// - 事件按资源顺序串行发出
type Observer interface {
	// OnStart 在任何网络请求之前调用。
	OnStart(eff config.EffectiveConfig)
	// OnItemStart 在某个资源开始处理时调用（大文件下载可能持续较久）。
	OnItemStart(idx, total int, res domain.Resource)
	// OnItemDone 在某个资源处理完成（成功或失败）时调用；
	// 运行被取消后，未开始的资源直接以 failed 发出，不再有 OnItemStart。
	OnItemDone(idx, total int, item domain.ItemResult, dur time.Duration)
}
