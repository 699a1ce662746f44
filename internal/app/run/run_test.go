package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/John-Robertt/bagsnap/internal/archive"
	"github.com/John-Robertt/bagsnap/internal/config"
	"github.com/John-Robertt/bagsnap/internal/domain"
	"github.com/John-Robertt/bagsnap/internal/fetch"
	"github.com/John-Robertt/bagsnap/internal/linkres"
)

type stubFetcher struct {
	mu    sync.Mutex
	body  map[string][]byte
	calls []string
}

func (f *stubFetcher) Fetch(ctx context.Context, u string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, u)
	if err := ctx.Err(); err != nil {
		return nil, &fetch.Error{URL: u, Err: err}
	}
	if b, ok := f.body[u]; ok {
		return b, nil
	}
	return nil, &fetch.HTTPStatusError{URL: u, StatusCode: 404}
}

type recordObserver struct {
	starts int
	events []string
}

func (o *recordObserver) OnStart(eff config.EffectiveConfig) { o.starts++ }

func (o *recordObserver) OnItemStart(idx, total int, res domain.Resource) {
	o.events = append(o.events, fmt.Sprintf("start %d/%d %s", idx, total, res.Name))
}

func (o *recordObserver) OnItemDone(idx, total int, item domain.ItemResult, dur time.Duration) {
	o.events = append(o.events, fmt.Sprintf("done %d/%d %s %s", idx, total, item.Resource, item.Status))
}

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)

func fixedArchiver(at time.Time) *archive.Archiver {
	return archive.New(archive.Options{Now: func() time.Time { return at }})
}

const overview = `<html><body><a href="/api/data/sources-csv.zip">Daten als .csv</a></body></html>`

func testConfig(root string) config.EffectiveConfig {
	return config.EffectiveConfig{
		Root: root,
		Resources: []domain.Resource{
			{Name: "report_data", URL: "https://bag.test/files/report.xlsx", Dir: filepath.Join(root, "report_data"), Suffix: ".xlsx"},
			{Name: "csv_data", Page: "https://dash.test/de/overview", Label: "Daten als .csv", Base: "https://dash.test", Dir: filepath.Join(root, "csv_data"), Suffix: ".zip"},
			{Name: "json_data", Page: "https://dash.test/de/overview", Label: "Daten als .json", Dir: filepath.Join(root, "json_data"), Suffix: ".zip"},
			{Name: "cases_data", URL: "https://bag.test/files/gone.xlsx", Dir: filepath.Join(root, "cases_data"), Suffix: ".xlsx"},
		},
	}
}

func itemsByResource(rr domain.RunReport) map[string]domain.ItemResult {
	out := make(map[string]domain.ItemResult, len(rr.Items))
	for _, it := range rr.Items {
		out[it.Resource] = it
	}
	return out
}

func TestExecute_IsolatesFailuresPerResource(t *testing.T) {
	root := t.TempDir()
	f := &stubFetcher{body: map[string][]byte{
		"https://bag.test/files/report.xlsx":         []byte("xlsx v1"),
		"https://dash.test/de/overview":              []byte(overview),
		"https://dash.test/api/data/sources-csv.zip": []byte("zip v1"),
	}}

	rr := Execute(context.Background(), testConfig(root), Deps{Fetcher: f, Archiver: fixedArchiver(t0)})

	if rr.Summary.Committed != 2 || rr.Summary.Failed != 2 || rr.Summary.Discarded != 0 {
		t.Fatalf("summary 不符合预期：%+v", rr.Summary)
	}
	items := itemsByResource(rr)

	report := items["report_data"]
	if report.Status != domain.StatusCommitted {
		t.Fatalf("report_data 期望 committed，实际=%+v", report)
	}
	wantPath := filepath.Join(root, "report_data", "2024-03-01_10-00_report.xlsx")
	if report.Path != wantPath || report.Size != int64(len("xlsx v1")) {
		t.Fatalf("report_data path/size 不符合预期：%+v", report)
	}
	if b, err := os.ReadFile(wantPath); err != nil || string(b) != "xlsx v1" {
		t.Fatalf("快照内容不符合预期：%q err=%v", string(b), err)
	}

	csv := items["csv_data"]
	if csv.Status != domain.StatusCommitted || csv.Resolved != "https://dash.test/api/data/sources-csv.zip" {
		t.Fatalf("csv_data 不符合预期：%+v", csv)
	}
	if csv.Source != "https://dash.test/de/overview" {
		t.Fatalf("csv_data source 应为页面地址，实际=%q", csv.Source)
	}
	if filepath.Base(csv.Path) != "2024-03-01_10-00_sources-csv.zip" {
		t.Fatalf("csv_data 文件名不符合预期：%q", csv.Path)
	}

	if js := items["json_data"]; js.Status != domain.StatusFailed || js.ErrorCode != domain.ErrCodeLinkNotFound {
		t.Fatalf("json_data 期望 link_not_found，实际=%+v", js)
	}
	if _, err := os.Stat(filepath.Join(root, "json_data")); !os.IsNotExist(err) {
		t.Fatalf("link_not_found 时不应创建目录：err=%v", err)
	}

	if cases := items["cases_data"]; cases.Status != domain.StatusFailed || cases.ErrorCode != domain.ErrCodeFetchFailed {
		t.Fatalf("cases_data 期望 fetch_failed，实际=%+v", cases)
	}

	for _, u := range f.calls {
		if u == "" {
			t.Fatalf("不应请求空地址：calls=%v", f.calls)
		}
	}
}

func TestExecute_UnchangedContentIsDiscarded(t *testing.T) {
	root := t.TempDir()
	eff := testConfig(root)
	eff.Resources = eff.Resources[:1]
	f := &stubFetcher{body: map[string][]byte{"https://bag.test/files/report.xlsx": []byte("same")}}

	first := Execute(context.Background(), eff, Deps{Fetcher: f, Archiver: fixedArchiver(t0)})
	second := Execute(context.Background(), eff, Deps{Fetcher: f, Archiver: fixedArchiver(t0.Add(time.Hour))})

	if first.Items[0].Status != domain.StatusCommitted {
		t.Fatalf("首次期望 committed，实际=%+v", first.Items[0])
	}
	it := second.Items[0]
	if it.Status != domain.StatusDiscarded || it.Path != first.Items[0].Path || it.Previous != first.Items[0].Path {
		t.Fatalf("第二次期望 discarded 并指向已有快照，实际=%+v", it)
	}

	entries, err := os.ReadDir(filepath.Join(root, "report_data"))
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("期望只有 1 个快照，实际 %d", len(entries))
	}
}

func TestExecute_SameMinuteChangeCommitsNextMinute(t *testing.T) {
	root := t.TempDir()
	eff := testConfig(root)
	eff.Resources = eff.Resources[:1]
	u := "https://bag.test/files/report.xlsx"
	f := &stubFetcher{body: map[string][]byte{u: []byte("v1")}}

	Execute(context.Background(), eff, Deps{Fetcher: f, Archiver: fixedArchiver(t0)})
	f.body[u] = []byte("v2")
	rr := Execute(context.Background(), eff, Deps{Fetcher: f, Archiver: fixedArchiver(t0.Add(30 * time.Second))})

	it := rr.Items[0]
	if it.Status != domain.StatusCommitted {
		t.Fatalf("期望 committed，实际=%+v", it)
	}
	if filepath.Base(it.Path) != "2024-03-01_10-01_report.xlsx" {
		t.Fatalf("期望顺延到下一分钟，实际=%q", it.Path)
	}
	b, err := os.ReadFile(filepath.Join(root, "report_data", "2024-03-01_10-00_report.xlsx"))
	if err != nil || string(b) != "v1" {
		t.Fatalf("已有快照不应被覆盖：%q err=%v", string(b), err)
	}
}

func TestExecute_TargetOccupiedByDirIsTargetConflict(t *testing.T) {
	root := t.TempDir()
	eff := testConfig(root)
	eff.Resources = eff.Resources[:1]
	if err := os.MkdirAll(filepath.Join(eff.Resources[0].Dir, "2024-03-01_10-00_report.xlsx"), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	f := &stubFetcher{body: map[string][]byte{"https://bag.test/files/report.xlsx": []byte("v1")}}

	rr := Execute(context.Background(), eff, Deps{Fetcher: f, Archiver: fixedArchiver(t0)})
	if it := rr.Items[0]; it.Status != domain.StatusFailed || it.ErrorCode != domain.ErrCodeTargetConflict {
		t.Fatalf("期望 target_conflict，实际=%+v", it)
	}
}

func TestExecute_DirIsFileIsIOFailed(t *testing.T) {
	root := t.TempDir()
	eff := testConfig(root)
	eff.Resources = eff.Resources[:1]
	if err := os.WriteFile(eff.Resources[0].Dir, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
	f := &stubFetcher{body: map[string][]byte{"https://bag.test/files/report.xlsx": []byte("v1")}}

	rr := Execute(context.Background(), eff, Deps{Fetcher: f, Archiver: fixedArchiver(t0)})
	if it := rr.Items[0]; it.ErrorCode != domain.ErrCodeIOFailed {
		t.Fatalf("期望 io_failed，实际=%+v", it)
	}
}

func TestExecute_NameHintOverride(t *testing.T) {
	root := t.TempDir()
	eff := testConfig(root)
	eff.Resources = eff.Resources[:1]
	eff.Resources[0].NameHint = "lagebericht"
	f := &stubFetcher{body: map[string][]byte{"https://bag.test/files/report.xlsx": []byte("v1")}}

	rr := Execute(context.Background(), eff, Deps{Fetcher: f, Archiver: fixedArchiver(t0)})
	if got := filepath.Base(rr.Items[0].Path); got != "2024-03-01_10-00_lagebericht.xlsx" {
		t.Fatalf("期望使用 name_hint 并补上后缀，实际=%q", got)
	}
}

func TestExecuteWithObserver_EmitsEventsInOrder(t *testing.T) {
	root := t.TempDir()
	eff := testConfig(root)
	eff.Resources = eff.Resources[:2]
	f := &stubFetcher{body: map[string][]byte{
		"https://bag.test/files/report.xlsx": []byte("v1"),
		"https://dash.test/de/overview":      []byte(overview),
	}}
	obs := &recordObserver{}

	ExecuteWithObserver(context.Background(), eff, Deps{Fetcher: f, Archiver: fixedArchiver(t0)}, obs)

	if obs.starts != 1 {
		t.Fatalf("期望 OnStart 调用 1 次，实际 %d", obs.starts)
	}
	want := []string{
		"start 1/2 report_data",
		"done 1/2 report_data committed",
		"start 2/2 csv_data",
		"done 2/2 csv_data failed",
	}
	if fmt.Sprint(obs.events) != fmt.Sprint(want) {
		t.Fatalf("事件不符合预期：\n got=%v\nwant=%v", obs.events, want)
	}
}

func TestExecute_CanceledContext(t *testing.T) {
	root := t.TempDir()
	f := &stubFetcher{}
	obs := &recordObserver{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rr := ExecuteWithObserver(ctx, testConfig(root), Deps{Fetcher: f, Archiver: fixedArchiver(t0)}, obs)

	if rr.Summary.Failed != len(testConfig(root).Resources) {
		t.Fatalf("期望全部失败，实际=%+v", rr.Summary)
	}
	for _, it := range rr.Items {
		if it.ErrorCode != domain.ErrCodeCanceled {
			t.Fatalf("期望 canceled，实际=%+v", it)
		}
	}
	if len(f.calls) != 0 {
		t.Fatalf("取消后不应发请求：calls=%v", f.calls)
	}
	// 未开始的资源也要发 OnItemDone，进度计数才能走到 total。
	want := []string{
		"done 1/4 report_data failed",
		"done 2/4 csv_data failed",
		"done 3/4 json_data failed",
		"done 4/4 cases_data failed",
	}
	if fmt.Sprint(obs.events) != fmt.Sprint(want) {
		t.Fatalf("事件不符合预期：\n got=%v\nwant=%v", obs.events, want)
	}
}

func TestExecute_InvalidProxyIsSyntheticFailure(t *testing.T) {
	root := t.TempDir()
	eff := testConfig(root)
	eff.ProxyURL = "127.0.0.1:8080"

	rr := Execute(context.Background(), eff, Deps{})
	if len(rr.Items) != 1 {
		t.Fatalf("期望 1 条合成失败，实际 %d", len(rr.Items))
	}
	if it := rr.Items[0]; it.Resource != "" || it.ErrorCode != domain.ErrCodeConfigInvalid {
		t.Fatalf("合成条目不符合预期：%+v", it)
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"link", &linkres.NotFoundError{Label: "x"}, domain.ErrCodeLinkNotFound},
		{"http", &fetch.HTTPStatusError{URL: "u", StatusCode: 500}, domain.ErrCodeFetchFailed},
		{"network", &fetch.Error{URL: "u", Err: errors.New("connection refused")}, domain.ErrCodeFetchFailed},
		{"too large", &fetch.Error{URL: "u", Err: &fetch.TooLargeError{Limit: 1}}, domain.ErrCodeFetchFailed},
		{"conflict", &archive.FSError{Op: archive.OpCommit, Path: "p", Err: fmt.Errorf("x: %w", os.ErrExist)}, domain.ErrCodeTargetConflict},
		{"prepare conflict", &archive.FSError{Op: archive.OpPrepare, Path: "p", Err: fmt.Errorf("x: %w", os.ErrExist)}, domain.ErrCodeIOFailed},
		{"io", &archive.FSError{Op: archive.OpStage, Path: "p", Err: os.ErrPermission}, domain.ErrCodeIOFailed},
		{"canceled", &fetch.Error{URL: "u", Err: context.Canceled}, domain.ErrCodeCanceled},
	}
	for _, tc := range cases {
		if got := ErrorCode(tc.err); got != tc.want {
			t.Fatalf("[%s] 期望 %q，实际 %q", tc.name, tc.want, got)
		}
	}
}
