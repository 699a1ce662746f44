package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/bagsnap/internal/domain"
)

const (
	// ErrCodeNotFound 表示 --config 指定的文件不存在。
	ErrCodeNotFound = domain.ErrCodeConfigNotFound
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = domain.ErrCodeConfigInvalid
)

const (
	// FileName 是 cwd 下自动发现的配置文件名。
	FileName = "bagsnap.yaml"
	// DefaultRoot 是归档根目录的内置默认值（相对 cwd）。
	DefaultRoot = "downloads"
	// DefaultTimeout 是单次请求（含读 body）的超时。
	DefaultTimeout = 2 * time.Minute
)

// CLIArgs 是 CLI 暴露的入口，保留“是否显式指定”的信息。
type CLIArgs struct {
	Root    string
	RootSet bool

	// ConfigPath 非空时配置文件必须存在。
	ConfigPath string

	// Only 限定本次处理的资源名；空表示全部。
	Only []string
}

// FileConfig 对应 bagsnap.yaml 的解析结构。
type FileConfig struct {
	Root      string           `yaml:"root"`
	Timeout   string           `yaml:"timeout"`
	MaxBytes  int64            `yaml:"max_bytes"`
	UserAgent string           `yaml:"user_agent"`
	Proxy     *ProxyConfig     `yaml:"proxy"`
	Resources []ResourceConfig `yaml:"resources"`
}

type ProxyConfig struct {
	URL string `yaml:"url"`
}

// ResourceConfig 描述一个资源：url 与 page+label 二选一。
type ResourceConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Page     string `yaml:"page"`
	Label    string `yaml:"label"`
	Base     string `yaml:"base"`
	Dir      string `yaml:"dir"`
	Suffix   string `yaml:"suffix"`
	NameHint string `yaml:"name_hint"`
}

// EffectiveConfig 是合并并规范化后的最终配置，实现层直接消费。
type EffectiveConfig struct {
	// Root 是绝对路径。
	Root string
	// ConfigFile 是实际读取的配置文件；未读取时为空。
	ConfigFile string

	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
	ProxyURL  string

	// Resources 保持配置顺序；Dir 已是绝对路径。
	Resources []domain.Resource
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Path == "" {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则：
// 1) CLI 提供 --config：读取该文件（相对 cwd），不存在即 config_not_found
// 2) 否则尝试 <cwd>/bagsnap.yaml（可选）
//
// 覆盖优先级：
// - root：CLI --root > config root > 默认 downloads
// - resources：配置文件给出则整体替换内置表，否则用内置表
// - 其他字段：仅由 config 控制
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath  string
		required bool
	)
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		required = true
	} else {
		cfgPath = filepath.Join(cwdAbs, FileName)
	}

	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists {
		if required {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
		cfgPath = ""
	}

	return merge(cwdAbs, cli, fc, cfgPath)
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(err error) error {
		return &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	root := DefaultRoot
	if cli.RootSet {
		root = cli.Root
	} else if strings.TrimSpace(fc.Root) != "" {
		root = fc.Root
	}
	if strings.TrimSpace(root) == "" {
		return EffectiveConfig{}, invalid(errors.New("root 不能为空"))
	}
	rootAbs := absCleanFrom(cwdAbs, root)

	timeout := DefaultTimeout
	if s := strings.TrimSpace(fc.Timeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return EffectiveConfig{}, invalid(fmt.Errorf("timeout 无效：%q", s))
		}
		timeout = d
	}

	if fc.MaxBytes < 0 {
		return EffectiveConfig{}, invalid(fmt.Errorf("max_bytes 不能为负数：%d", fc.MaxBytes))
	}

	proxyURL := ""
	if fc.Proxy != nil {
		proxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return EffectiveConfig{}, invalid(fmt.Errorf("proxy.url 无效：%q", proxyURL))
		}
	}

	rcs := fc.Resources
	if len(rcs) == 0 {
		rcs = Builtin()
	}
	resources, err := buildResources(rootAbs, rcs)
	if err != nil {
		return EffectiveConfig{}, invalid(err)
	}
	resources, err = selectResources(resources, cli.Only)
	if err != nil {
		return EffectiveConfig{}, invalid(err)
	}

	return EffectiveConfig{
		Root:       rootAbs,
		ConfigFile: cfgPath,
		Timeout:    timeout,
		MaxBytes:   fc.MaxBytes,
		UserAgent:  strings.TrimSpace(fc.UserAgent),
		ProxyURL:   proxyURL,
		Resources:  resources,
	}, nil
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// buildResources 校验资源表并把 dir 解析到 root 之下。
//
// 规则：
// - name 必填、唯一，只允许字母/数字/_/./-
// - url 与 page 二选一；page 必须带 label
// - dir 为空时等于 name；必须是 root 下的相对路径
// - suffix 为空表示目录中所有文件都参与比较
func buildResources(root string, rcs []ResourceConfig) ([]domain.Resource, error) {
	seen := make(map[string]struct{}, len(rcs))
	out := make([]domain.Resource, 0, len(rcs))
	for i, rc := range rcs {
		name := strings.TrimSpace(rc.Name)
		if !nameRe.MatchString(name) {
			return nil, fmt.Errorf("resources[%d].name 无效：%q", i, rc.Name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("resources[%d].name 重复：%q", i, name)
		}
		seen[name] = struct{}{}

		r := domain.Resource{
			Name:     name,
			URL:      strings.TrimSpace(rc.URL),
			Page:     strings.TrimSpace(rc.Page),
			Label:    strings.TrimSpace(rc.Label),
			Base:     strings.TrimSpace(rc.Base),
			Suffix:   strings.TrimSpace(rc.Suffix),
			NameHint: strings.TrimSpace(rc.NameHint),
		}

		switch {
		case r.URL != "" && r.Page != "":
			return nil, fmt.Errorf("resource %q：url 与 page 只能二选一", name)
		case r.URL != "":
			if err := validateHTTPURL(r.URL); err != nil {
				return nil, fmt.Errorf("resource %q：url %w", name, err)
			}
		case r.Page != "":
			if err := validateHTTPURL(r.Page); err != nil {
				return nil, fmt.Errorf("resource %q：page %w", name, err)
			}
			if r.Label == "" {
				return nil, fmt.Errorf("resource %q：page 模式必须提供 label", name)
			}
			if r.Base != "" {
				if err := validateHTTPURL(r.Base); err != nil {
					return nil, fmt.Errorf("resource %q：base %w", name, err)
				}
			}
		default:
			return nil, fmt.Errorf("resource %q：url 与 page 必须提供一个", name)
		}

		if strings.ContainsAny(r.Suffix, `/\`) {
			return nil, fmt.Errorf("resource %q：suffix 不能包含路径分隔符：%q", name, r.Suffix)
		}
		if r.NameHint != "" && (strings.ContainsAny(r.NameHint, `/\`) || strings.HasPrefix(r.NameHint, ".")) {
			return nil, fmt.Errorf("resource %q：name_hint 无效：%q", name, r.NameHint)
		}

		dir := strings.TrimSpace(rc.Dir)
		if dir == "" {
			dir = name
		}
		if filepath.IsAbs(dir) {
			return nil, fmt.Errorf("resource %q：dir 必须是相对路径：%q", name, dir)
		}
		dir = filepath.Clean(dir)
		if dir == "." || dir == ".." || strings.HasPrefix(dir, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("resource %q：dir 必须位于 root 之下：%q", name, rc.Dir)
		}
		r.Dir = filepath.Join(root, dir)

		out = append(out, r)
	}
	return out, nil
}

// selectResources 按 only 过滤，保持配置顺序；未知名字报错。
func selectResources(all []domain.Resource, only []string) ([]domain.Resource, error) {
	if len(only) == 0 {
		return all, nil
	}
	want := make(map[string]bool, len(only))
	for _, n := range only {
		want[strings.TrimSpace(n)] = false
	}
	out := make([]domain.Resource, 0, len(only))
	for _, r := range all {
		if _, ok := want[r.Name]; ok {
			want[r.Name] = true
			out = append(out, r)
		}
	}
	for _, n := range only {
		n = strings.TrimSpace(n)
		if !want[n] {
			return nil, fmt.Errorf("未知资源：%q", n)
		}
	}
	return out, nil
}

func validateHTTPURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return fmt.Errorf("无效：%q", s)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("必须是 http/https：%q", s)
	}
	return nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 YAML 配置文件；未知字段视为错误。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		// 空文件等价于空配置。
		if errors.Is(err, io.EOF) {
			return FileConfig{}, true, nil
		}
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
