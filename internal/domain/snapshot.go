package domain

import "time"

// Snapshot 是归档目录中的一份已提交文件。
type Snapshot struct {
	Name string
	Path string
	Size int64

	// CapturedAt 优先取文件名前缀中的时间（FromName=true），否则取 mtime。
	CapturedAt time.Time
	FromName   bool
}

const (
	OutcomeCommitted = "committed"
	OutcomeDiscarded = "discarded"
)

// Outcome 是一次 ArchiveIfNew 的结果。
type Outcome struct {
	Status string

	// Path：committed 时是新文件；discarded 时是内容相同的已有快照。
	Path string
	// Previous 是参与比较的最新快照；首次提交为空。
	Previous string
	Size     int64
}

func (o Outcome) Committed() bool { return o.Status == OutcomeCommitted }
