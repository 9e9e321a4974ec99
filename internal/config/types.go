package config

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// 优先级
// ============================================================================

// Priority 协程优先级，数值越大优先级越高
type Priority int32

const (
	PriorityIdle Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityRealtime

	// NumPriorities 优先级级数
	NumPriorities = int(PriorityRealtime) + 1
)

var priorityNames = [...]string{"idle", "low", "normal", "high", "realtime"}

// String 返回优先级名称
func (p Priority) String() string {
	if p.Valid() {
		return priorityNames[p]
	}
	return fmt.Sprintf("priority(%d)", int32(p))
}

// Valid 是否为合法优先级
func (p Priority) Valid() bool {
	return p >= PriorityIdle && p <= PriorityRealtime
}

// MarshalText 实现 encoding.TextMarshaler
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int32(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (p *Priority) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for i, n := range priorityNames {
		if n == name {
			*p = Priority(i)
			return nil
		}
	}
	return fmt.Errorf("unknown priority %q", name)
}

// ============================================================================
// 调度策略
// ============================================================================

// Policy 调度策略
type Policy int32

const (
	// PolicyCooperative 只在主动让出时切换，调度器从不抢占
	PolicyCooperative Policy = iota

	// PolicyPreemptive 始终接受时间片检查，且有更高优先级就绪时在检查点让出
	PolicyPreemptive

	// PolicyHybrid 主动让出 + 时间片检查
	PolicyHybrid
)

var policyNames = [...]string{"cooperative", "preemptive", "hybrid"}

// String 返回策略名称
func (p Policy) String() string {
	if p.Valid() {
		return policyNames[p]
	}
	return fmt.Sprintf("policy(%d)", int32(p))
}

// Valid 是否为合法策略
func (p Policy) Valid() bool {
	return p >= PolicyCooperative && p <= PolicyHybrid
}

// MarshalText 实现 encoding.TextMarshaler
func (p Policy) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid policy %d", int32(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (p *Policy) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for i, n := range policyNames {
		if n == name {
			*p = Policy(i)
			return nil
		}
	}
	return fmt.Errorf("unknown policy %q", name)
}

// ============================================================================
// 时长
// ============================================================================

// Duration 以 "10ms" 形式读写的时长
type Duration time.Duration

// Std 转换为 time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String 返回可读形式
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText 实现 encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}
