// gtbench - greenrt 调度器压测与自检工具
//
// 用法:
//   gtbench counter [options]     # 混合抢占下的共享计数器压测
//   gtbench priority [options]    # 单调度器优先级顺序自检
//   gtbench pool [options]        # 栈池分配/归还压测
//   gtbench config [path]         # 生成默认配置文件

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tangzhangming/greenrt/internal/config"
	"github.com/tangzhangming/greenrt/internal/logging"
	"github.com/tangzhangming/greenrt/internal/numa"
	"github.com/tangzhangming/greenrt/internal/sched"
	"github.com/tangzhangming/greenrt/internal/stackpool"
)

// 版本信息
const (
	Version = "1.0.0"
	Name    = "gtbench"
)

// 命令行选项
var (
	helpFlag    = flag.Bool("help", false, "显示帮助信息")
	versionFlag = flag.Bool("version", false, "显示版本信息")
	verboseFlag = flag.Bool("v", false, "详细输出（debug 日志）")
	jsonFlag    = flag.Bool("json", false, "以 JSON 输出统计")
	configFlag  = flag.String("config", "", "配置文件路径（默认从当前目录向上查找 greenrt.toml）")

	workersFlag = flag.Int("workers", 0, "工作线程数，0 表示使用配置")
	threadsFlag = flag.Int("threads", 1000, "协程数")
	itersFlag   = flag.Int("iters", 100, "每个协程的迭代次数")
	sliceFlag   = flag.Duration("slice", 0, "时间片，0 表示使用配置")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if *helpFlag {
		usage()
		os.Exit(0)
	}

	if *versionFlag {
		fmt.Printf("%s version %s\n", Name, Version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	var err error
	switch cmd {
	case "counter":
		err = runCounter()
	case "priority":
		err = runPriority()
	case "pool":
		err = runPool()
	case "config":
		err = writeConfig(cmdArgs)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "未知命令: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `%s - greenrt 调度器压测工具 v%s

用法:
  %s [选项] <命令> [参数]

命令:
  counter   多工作线程混合抢占计数器压测
  priority  单调度器优先级顺序自检
  pool      栈池并发分配/归还压测
  config    生成默认配置文件
  help      显示帮助信息

选项:
`, Name, Version, Name)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
示例:
  # 4 个工作线程、1000 个协程各加 100 次
  %s -workers 4 -threads 1000 -iters 100 counter

  # 用 200us 时间片并输出 JSON 统计
  %s -slice 200us -json counter

  # 生成 greenrt.toml
  %s config
`, Name, Name, Name)
}

// ============================================================================
// 公共
// ============================================================================

// loadConfig 加载配置并应用命令行覆盖
func loadConfig() (*config.Config, error) {
	path := *configFlag
	if path == "" {
		path = config.FindConfigFile(".")
	}

	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}

	if *workersFlag > 0 {
		cfg.Scheduler.Workers = *workersFlag
	}
	if *sliceFlag > 0 {
		cfg.Scheduler.TimeSlice = config.Duration(*sliceFlag)
	}
	if *verboseFlag {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	return log.Named(Name), nil
}

// report 打印统计
func report(title string, v interface{}, elapsed time.Duration) error {
	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"bench":      title,
			"elapsed_ms": elapsed.Milliseconds(),
			"stats":      v,
		})
	}

	fmt.Printf("=== %s (%s) ===\n", title, elapsed)
	switch st := v.(type) {
	case sched.RuntimeStats:
		fmt.Printf("  工作线程:   %d\n", st.Workers)
		printSched("  合计", st.Total)
		if *verboseFlag {
			for _, s := range st.Schedulers {
				printSched(fmt.Sprintf("  调度器 #%d", s.ID), s)
			}
		}
	case sched.SchedulerStats:
		printSched("  调度器", st)
	case stackpool.Stats:
		printPool("  栈池", st)
	}
	return nil
}

func printSched(label string, s sched.SchedulerStats) {
	fmt.Printf("%s:\n", label)
	fmt.Printf("    spawned=%d completed=%d canceled=%d crashed=%d\n",
		s.Spawned, s.Completed, s.Canceled, s.Crashed)
	fmt.Printf("    switches=%d preemptions=%d steals=%d steal_failures=%d overflows=%d\n",
		s.ContextSwitches, s.Preemptions, s.Steals, s.StealFailures, s.Overflows)
	printPool("    stack", s.Pool)
}

func printPool(label string, p stackpool.Stats) {
	fmt.Printf("%s: alloc=%d dealloc=%d hits=%d misses=%d direct=%d in_use=%d pooled=%d node_misses=%d\n",
		label, p.Allocations, p.Deallocations, p.Hits, p.Misses, p.Direct, p.InUse, p.Pooled, p.NodeMisses)
}

// ============================================================================
// counter
// ============================================================================

// runCounter 每个协程在外部锁下对共享计数器做读-延迟-写，
// 延迟期间反复到达检查点，让抢占落在临界区里
func runCounter() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	rt, err := sched.NewRuntime(cfg, log)
	if err != nil {
		return err
	}
	if err := rt.Start(); err != nil {
		return err
	}

	var mu sync.Mutex
	counter := 0
	iters := *itersFlag

	entry := func(t *sched.Thread, _ any) (any, error) {
		for i := 0; i < iters; i++ {
			for !mu.TryLock() {
				t.Yield()
			}
			v := counter
			deadline := time.Now().Add(2 * time.Microsecond)
			for time.Now().Before(deadline) {
				if err := t.Checkpoint(); err != nil {
					mu.Unlock()
					return nil, err
				}
			}
			counter = v + 1
			mu.Unlock()
			t.Checkpoint()
		}
		return nil, nil
	}

	tc := sched.ThreadConfigFrom(cfg).With(sched.PriorityNormal, sched.Hybrid)

	start := time.Now()
	handles := make([]*sched.Thread, 0, *threadsFlag)
	for i := 0; i < *threadsFlag; i++ {
		th, err := rt.Spawn(entry, nil, tc)
		if err != nil {
			rt.Shutdown()
			return err
		}
		handles = append(handles, th)
	}
	for _, th := range handles {
		if _, err := rt.Join(th); err != nil {
			rt.Shutdown()
			return fmt.Errorf("thread %d: %w", th.ID(), err)
		}
	}
	elapsed := time.Since(start)

	st := rt.Stats()
	if err := rt.Shutdown(); err != nil {
		return err
	}
	if err := report("counter", st, elapsed); err != nil {
		return err
	}

	want := *threadsFlag * iters
	if counter != want {
		return fmt.Errorf("counter mismatch: expected %d, got %d", want, counter)
	}
	log.Info("counter ok", zap.Int("value", counter))
	return nil
}

// ============================================================================
// priority
// ============================================================================

// runPriority 在单个调度器上按随机顺序创建各优先级协程，
// 校验实际执行顺序单调不增
func runPriority() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	s := sched.NewScheduler(sched.OptionsFromConfig(cfg, log))
	if err := s.Init(); err != nil {
		return err
	}
	defer s.Shutdown()

	var order []sched.Priority
	entry := func(t *sched.Thread, _ any) (any, error) {
		order = append(order, t.Priority())
		return nil, nil
	}

	levels := []sched.Priority{
		sched.PriorityIdle, sched.PriorityLow, sched.PriorityNormal,
		sched.PriorityHigh, sched.PriorityRealtime,
	}

	start := time.Now()
	var handles []*sched.Thread
	for i := 0; i < *threadsFlag; i++ {
		p := levels[(i*7+3)%len(levels)]
		tc := sched.ThreadConfigFrom(cfg).With(p, sched.Cooperative)
		th, err := s.Spawn(entry, nil, tc)
		if err != nil {
			return err
		}
		handles = append(handles, th)
	}
	for _, th := range handles {
		if _, err := s.Join(th); err != nil {
			return err
		}
	}
	elapsed := time.Since(start)

	if err := report("priority", s.Stats(), elapsed); err != nil {
		return err
	}

	for i := 1; i < len(order); i++ {
		if order[i] > order[i-1] {
			return fmt.Errorf("priority inversion at %d: %s ran after %s", i, order[i], order[i-1])
		}
	}
	log.Info("priority order ok", zap.Int("threads", len(order)))
	return nil
}

// ============================================================================
// pool
// ============================================================================

// runPool 多个 goroutine 并发分配归还，结束时所有块必须已归还
func runPool() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	topo := numa.Discover()
	pool := stackpool.New(stackpool.OptionsFromConfig(cfg.Stack, log))

	workers := cfg.WorkerCount()
	errs := make(chan error, workers)
	var wg sync.WaitGroup

	start := time.Now()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			node := topo.NodeForWorker(w)
			for i := 0; i < *itersFlag; i++ {
				blk, err := pool.Allocate(cfg.Stack.DefaultSize, node)
				if err != nil {
					errs <- err
					return
				}
				blk.Bytes()[0] = byte(i)
				if err := pool.Free(blk); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	elapsed := time.Since(start)

	if err, ok := <-errs; ok {
		return err
	}

	st := pool.Stats()
	if err := report("pool", st, elapsed); err != nil {
		return err
	}
	if err := pool.Close(); err != nil {
		return err
	}
	if st.InUse != 0 {
		return fmt.Errorf("pool leak: %d blocks still in use", st.InUse)
	}
	if st.Allocations > int64(workers) {
		log.Warn("pool did not converge", zap.Int64("allocations", st.Allocations), zap.Int("workers", workers))
	}
	return nil
}

// ============================================================================
// config
// ============================================================================

// writeConfig 把默认配置写到指定路径
func writeConfig(args []string) error {
	path := config.ConfigFileName
	if len(args) > 0 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s 已存在", path)
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Printf("已生成配置文件: %s\n", path)
	return nil
}
