package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/bagsnap/internal/app/run"
	"github.com/John-Robertt/bagsnap/internal/config"
	"github.com/John-Robertt/bagsnap/internal/domain"
	"github.com/John-Robertt/bagsnap/internal/infra/fsx"
)

const reportFileName = "report.json"

func (a *app) runCmd() *cobra.Command {
	var writeReport bool

	cmd := &cobra.Command{
		Use:   "run [resource...]",
		Short: "下载全部（或指定）资源，内容有变化时提交新快照",
		RunE: func(cmd *cobra.Command, args []string) error {
			eff, cwd, err := a.loadConfig(cmd, args)
			if err != nil {
				a.emitReport(reportForConfigError(cwd, err))
				return &exitError{code: exitUsage}
			}

			log := a.logger()
			log.Debug("config loaded", "root", eff.Root, "config", eff.ConfigFile, "resources", len(eff.Resources))

			var ui *progressUI
			var obs run.Observer
			if w, ok := a.progressWriter(); ok {
				ui = newProgressUI(w)
				obs = ui
			}

			rr := run.ExecuteWithObserver(cmd.Context(), eff, run.Deps{Logger: log}, obs)
			if ui != nil {
				ui.stop()
			}

			if writeReport {
				if err := writeReportFile(eff.Root, rr); err != nil {
					fmt.Fprintf(a.stderr, "写入 %s 失败：%v\n", reportFileName, err)
					a.emitReport(rr)
					return &exitError{code: exitFailed}
				}
			}

			a.emitReport(rr)
			if ui != nil && writeReport {
				fmt.Fprintf(ui.w, "report: %s\n", filepath.Join(eff.Root, reportFileName))
			}
			if rr.Summary.Failed > 0 {
				return &exitError{code: exitFailed}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&writeReport, "report", false, "同时把 RunReport 写入 <root>/"+reportFileName)
	return cmd
}

// progressWriter 只在交互终端启用进度输出；优先 stderr。
func (a *app) progressWriter() (io.Writer, bool) {
	if a.isTTY(a.stderr) {
		return a.stderr, true
	}
	if a.isTTY(a.stdout) {
		return a.stdout, true
	}
	return nil, false
}

// emitReport：stdout 是 TTY 时只打印摘要（失败明细走 stderr）；
// 否则 stdout 必须且仅输出一个 RunReport JSON，摘要走 stderr。
func (a *app) emitReport(rr domain.RunReport) {
	if a.isTTY(a.stdout) {
		fmt.Fprintln(a.stdout, summaryLine(rr))
		for _, it := range rr.Items {
			if it.Status != domain.StatusFailed {
				continue
			}
			key := it.Resource
			if key == "" {
				key = "<config>"
			}
			fmt.Fprintf(a.stderr, "%s %s: %s\n", key, it.ErrorCode, it.ErrorMsg)
		}
		return
	}

	enc := json.NewEncoder(a.stdout)
	_ = enc.Encode(rr)
	fmt.Fprintln(a.stderr, summaryLine(rr))
}

func summaryLine(rr domain.RunReport) string {
	return fmt.Sprintf("完成：committed=%d discarded=%d failed=%d",
		rr.Summary.Committed, rr.Summary.Discarded, rr.Summary.Failed,
	)
}

func reportForConfigError(cwd string, err error) domain.RunReport {
	now := time.Now().UTC()
	code := config.Code(err)
	if code == "" {
		code = domain.ErrCodeConfigInvalid
	}
	rr := domain.RunReport{
		Root:       cwd,
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.ItemResult{{
			Status:    domain.StatusFailed,
			ErrorCode: code,
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func writeReportFile(root string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if err := fsx.EnsureDir(root); err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(root, reportFileName, b)
}
