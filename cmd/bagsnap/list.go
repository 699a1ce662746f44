package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/bagsnap/internal/archive"
	"github.com/John-Robertt/bagsnap/internal/domain"
)

func (a *app) listCmd() *cobra.Command {
	var noDigest bool

	cmd := &cobra.Command{
		Use:   "list [resource...]",
		Short: "按捕获顺序列出各资源已归档的快照",
		RunE: func(cmd *cobra.Command, args []string) error {
			eff, _, err := a.loadConfig(cmd, args)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}

			failed := false
			for _, res := range eff.Resources {
				snaps, err := archive.List(res.Dir, res.Suffix)
				if err != nil {
					fmt.Fprintf(a.stderr, "%s %s: %v\n", res.Name, domain.ErrCodeIOFailed, err)
					failed = true
					continue
				}
				if err := writeSnapshots(a.stdout, res, snaps, !noDigest); err != nil {
					fmt.Fprintf(a.stderr, "%s %s: %v\n", res.Name, domain.ErrCodeIOFailed, err)
					failed = true
				}
			}
			if failed {
				return &exitError{code: exitFailed}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noDigest, "no-digest", false, "不计算 xxh3 摘要（大文件较多时更快）")
	return cmd
}

// writeSnapshots 每个资源一段：标题行 + 快照表；最新的快照在最后。
func writeSnapshots(w io.Writer, res domain.Resource, snaps []domain.Snapshot, withDigest bool) error {
	fmt.Fprintf(w, "%s (%d) %s\n", res.Name, len(snaps), res.Dir)
	if len(snaps) == 0 {
		fmt.Fprintln(w)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range snaps {
		captured := s.CapturedAt.Format("2006-01-02 15:04")
		if !s.FromName {
			captured += " (mtime)"
		}
		digest := "-"
		if withDigest {
			d, err := archive.Digest(s.Path)
			if err != nil {
				_ = tw.Flush()
				return err
			}
			digest = d
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", s.Name, formatSize(s.Size), captured, digest)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}
