package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/bagsnap/internal/config"
)

const appName = "bagsnap"

// 退出码：0 全部成功；1 至少一个资源失败；2 参数或配置错误。
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := newApp(os.Stdout, os.Stderr).execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// exitError 让子命令把退出码交给 execute；err 为空表示信息已输出过。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

type globalFlags struct {
	configPath string
	root       string
	verbose    bool
}

type app struct {
	stdout io.Writer
	stderr io.Writer

	// 可替换：测试里固定为 false / 临时目录。
	isTTY func(w io.Writer) bool
	getwd func() (string, error)

	flags globalFlags
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		isTTY:  isTTY,
		getwd:  os.Getwd,
	}
}

func (a *app) execute(ctx context.Context, args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(a.stderr, "错误：%v\n", ee.err)
		}
		return ee.code
	}
	// cobra 自身的参数错误（未知 flag/子命令等）。
	fmt.Fprintf(a.stderr, "参数错误：%v\n", err)
	return exitUsage
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "下载周期发布的数据文件，内容变化时才归档为带时间戳的快照",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "配置文件路径（默认尝试 ./"+config.FileName+"）")
	pf.StringVar(&a.flags.root, "root", "", "归档根目录（覆盖配置文件中的 root）")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "输出调试日志")

	root.AddCommand(a.runCmd(), a.listCmd())
	return root
}

// loadConfig 合并配置文件与 CLI；args 是要处理的资源名。
func (a *app) loadConfig(cmd *cobra.Command, args []string) (config.EffectiveConfig, string, error) {
	cwd, err := a.getwd()
	if err != nil {
		return config.EffectiveConfig{}, "", fmt.Errorf("读取当前目录失败：%w", err)
	}
	eff, err := config.LoadEffective(cwd, config.CLIArgs{
		Root:       a.flags.root,
		RootSet:    cmd.Flags().Changed("root"),
		ConfigPath: a.flags.configPath,
		Only:       args,
	})
	return eff, cwd, err
}

// logger 输出到 stderr，不污染 stdout 的 JSON 契约。
func (a *app) logger() *slog.Logger {
	level := slog.LevelWarn
	if a.flags.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
