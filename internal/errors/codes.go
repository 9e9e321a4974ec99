// Package errors 提供 greenrt 调度核心的错误分类与错误码。
package errors

// ============================================================================
// 错误级别
// ============================================================================

// Level 错误级别
type Level int

const (
	LevelError   Level = iota // 错误
	LevelWarning              // 警告
	LevelFatal                // 致命（调度器内部不变式被破坏）
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ============================================================================
// 调度器错误码 (G 开头)
// ============================================================================

// Code 错误码
type Code string

const (
	// G0001-G0099: 调用方错误
	G0001 Code = "G0001" // 参数无效（空入口函数、非法配置）
	G0003 Code = "G0003" // 调度器未初始化
	G0004 Code = "G0004" // 协程已终止（Done/Canceled/Crashed）
	G0008 Code = "G0008" // 死锁：join 时没有可运行的协程
	G0009 Code = "G0009" // 结果已被其他 join 取走

	// G0100-G0199: 资源错误
	G0002 Code = "G0002" // 内存不足（栈或调度器分配失败）
	G0005 Code = "G0005" // 栈溢出（触碰保护页）
	G0006 Code = "G0006" // 平台不支持（NUMA、线程亲和性等）

	// G0900: 内部错误
	G0007 Code = "G0007" // 上下文切换不变式被破坏
)

// ============================================================================
// 错误码信息
// ============================================================================

// ErrorInfo 错误码信息
type ErrorInfo struct {
	Code     Code   // 错误码
	Level    Level  // 错误级别
	Message  string // 默认描述
	Category string // 错误分类
}

// codeTable 错误码信息表
var codeTable = map[Code]ErrorInfo{
	G0001: {G0001, LevelError, "invalid argument", "argument"},
	G0002: {G0002, LevelError, "out of memory", "resource"},
	G0003: {G0003, LevelError, "scheduler not initialized", "scheduler"},
	G0004: {G0004, LevelError, "thread already dead", "thread"},
	G0005: {G0005, LevelError, "stack overflow", "resource"},
	G0006: {G0006, LevelWarning, "platform unsupported", "platform"},
	G0007: {G0007, LevelFatal, "internal error", "scheduler"},
	G0008: {G0008, LevelError, "deadlock: no runnable threads", "scheduler"},
	G0009: {G0009, LevelError, "result already joined", "thread"},
}

// GetErrorInfo 获取错误码信息
func GetErrorInfo(code Code) (ErrorInfo, bool) {
	info, ok := codeTable[code]
	return info, ok
}

// String 返回错误码的默认描述
func (c Code) String() string {
	if info, ok := codeTable[c]; ok {
		return info.Message
	}
	return string(c)
}
