// Package config 实现 greenrt 的配置文件（greenrt.toml）加载与校验。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
)

// 常量定义
const (
	ConfigFileName = "greenrt.toml" // 配置文件名

	KiB = 1024

	DefaultTimeSlice      = 10 * time.Millisecond
	DefaultQueueCapacity  = 256
	DefaultStackSize      = 64 * KiB
	DefaultMinBucket      = 1 * KiB
	DefaultMaxBucket      = 128 * KiB
	DefaultBucketCapacity = 64

	// MaxWorkers 工作线程上限
	MaxWorkers = 256
)

// ============================================================================
// 配置结构
// ============================================================================

// Config 运行时配置
type Config struct {
	Scheduler Scheduler `toml:"scheduler"`
	Stack     Stack     `toml:"stack"`
	Thread    Thread    `toml:"thread"`
	Log       Log       `toml:"log"`
}

// Scheduler 调度器配置
type Scheduler struct {
	// Workers 工作线程数（0 表示 CPU 核心数）
	Workers int `toml:"workers"`

	// TimeSlice 混合抢占的时间片
	TimeSlice Duration `toml:"time_slice"`

	// QueueCapacity 每个优先级的窃取队列容量，必须是 2 的幂
	QueueCapacity int `toml:"queue_capacity"`

	// PinThreads 是否把工作线程绑定到其 NUMA 节点的 CPU 上
	PinThreads bool `toml:"pin_threads"`

	// Steal 是否允许从其他调度器窃取
	Steal bool `toml:"steal"`
}

// Stack 栈池配置
type Stack struct {
	DefaultSize    int  `toml:"default_size"`
	MinBucket      int  `toml:"min_bucket"`
	MaxBucket      int  `toml:"max_bucket"`
	BucketCapacity int  `toml:"bucket_capacity"`
	GuardPages     bool `toml:"guard_pages"`
	NUMA           bool `toml:"numa"`
}

// Thread 协程默认配置
type Thread struct {
	Priority Priority `toml:"priority"`
	Policy   Policy   `toml:"policy"`
	Lazy     bool     `toml:"lazy"`
	Stats    bool     `toml:"stats"`
}

// Log 日志配置
type Log struct {
	Level    string   `toml:"level"`    // debug, info, warn, error
	Encoding string   `toml:"encoding"` // console, json
	Outputs  []string `toml:"outputs"`  // stderr, stdout 或文件路径
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Scheduler: Scheduler{
			Workers:       0,
			TimeSlice:     Duration(DefaultTimeSlice),
			QueueCapacity: DefaultQueueCapacity,
			Steal:         true,
		},
		Stack: Stack{
			DefaultSize:    DefaultStackSize,
			MinBucket:      DefaultMinBucket,
			MaxBucket:      DefaultMaxBucket,
			BucketCapacity: DefaultBucketCapacity,
			GuardPages:     true,
			NUMA:           true,
		},
		Thread: Thread{
			Priority: PriorityNormal,
			Policy:   PolicyHybrid,
			Stats:    true,
		},
		Log: Log{
			Level:    "info",
			Encoding: "console",
			Outputs:  []string{"stderr"},
		},
	}
}

// WorkerCount 解析实际工作线程数
func (c *Config) WorkerCount() int {
	n := c.Scheduler.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > MaxWorkers {
		n = MaxWorkers
	}
	return n
}

// ============================================================================
// 加载与保存
// ============================================================================

// Load 从文件加载配置
//
// 文件中缺省的字段保留默认值。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse 解析 TOML 内容
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save 保存配置到文件
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	content := header + string(data)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

const header = `# greenrt 运行时配置
#
# [scheduler] 工作线程数（0 = CPU 核心数）、时间片、窃取队列容量
# [stack]     栈池桶大小范围（2 的幂）、每桶容量、保护页与 NUMA 绑定
# [thread]    协程默认优先级（idle/low/normal/high/realtime）与策略
#             （cooperative/preemptive/hybrid）
# [log]       日志级别与编码

`

// ============================================================================
// 校验
// ============================================================================

// Validate 校验配置，返回所有违规项的合并错误
func (c *Config) Validate() error {
	var err error

	s := c.Scheduler
	if s.Workers < 0 {
		err = multierr.Append(err, fmt.Errorf("scheduler.workers must be >= 0, got %d", s.Workers))
	}
	if s.TimeSlice <= 0 {
		err = multierr.Append(err, fmt.Errorf("scheduler.time_slice must be positive, got %s", s.TimeSlice))
	}
	if !isPowerOfTwo(s.QueueCapacity) {
		err = multierr.Append(err, fmt.Errorf("scheduler.queue_capacity must be a power of two, got %d", s.QueueCapacity))
	}

	st := c.Stack
	if !isPowerOfTwo(st.MinBucket) {
		err = multierr.Append(err, fmt.Errorf("stack.min_bucket must be a power of two, got %d", st.MinBucket))
	}
	if !isPowerOfTwo(st.MaxBucket) {
		err = multierr.Append(err, fmt.Errorf("stack.max_bucket must be a power of two, got %d", st.MaxBucket))
	}
	if st.MinBucket > st.MaxBucket {
		err = multierr.Append(err, fmt.Errorf("stack.min_bucket (%d) exceeds stack.max_bucket (%d)", st.MinBucket, st.MaxBucket))
	}
	if st.DefaultSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("stack.default_size must be positive, got %d", st.DefaultSize))
	}
	if st.BucketCapacity < 0 {
		err = multierr.Append(err, fmt.Errorf("stack.bucket_capacity must be >= 0, got %d", st.BucketCapacity))
	}

	switch strings.ToLower(c.Log.Encoding) {
	case "", "console", "json":
	default:
		err = multierr.Append(err, fmt.Errorf("log.encoding must be console or json, got %q", c.Log.Encoding))
	}

	return err
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// ============================================================================
// 配置文件查找
// ============================================================================

// FindConfigFile 从指定路径向上查找配置文件
// 返回配置文件的完整路径，如果找不到则返回空字符串
func FindConfigFile(startPath string) string {
	info, err := os.Stat(startPath)
	if err != nil {
		return ""
	}

	dir := startPath
	if !info.IsDir() {
		dir = filepath.Dir(startPath)
	}

	dir, err = filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// 已到达根目录
			return ""
		}
		dir = parent
	}
}
