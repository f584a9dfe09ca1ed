package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable `<PREFIX>_<4-digit>` identifier, matching
// `[A-Z_]+_[0-9]{4}`.
type ErrorCode string

// Error code families, one prefix per taxonomy group in the external
// interface contract.
const (
	PrefixConfig    = "BACKTEST_CONFIG"
	PrefixGraph     = "BACKTEST_GRAPH"
	PrefixLifecycle = "BACKTEST_NODE"
	PrefixPlayback  = "BACKTEST_STRATEGY"
	PrefixData      = "BACKTEST_DATA"
	PrefixVariable  = "BACKTEST_VAR"
	PrefixNode      = "BACKTEST_NODE"
	PrefixExternal  = "BACKTEST_EXTERNAL"
)

const (
	CodeNodeConfigNull           ErrorCode = PrefixConfig + "_0001"
	CodeEdgeConfigMissField      ErrorCode = PrefixConfig + "_0002"
	CodeNodeIDNull               ErrorCode = PrefixConfig + "_0003"
	CodeConfigDeserialization    ErrorCode = PrefixConfig + "_0004"
	CodeNodeNotFound             ErrorCode = PrefixGraph + "_0001"
	CodeNodeCycleDetected        ErrorCode = PrefixGraph + "_0002"
	CodeNodeInitFailed           ErrorCode = PrefixLifecycle + "_0001"
	CodeNodeInitTimeout          ErrorCode = PrefixLifecycle + "_0002"
	CodeNodeStopTimeout          ErrorCode = PrefixLifecycle + "_0003"
	CodeNodeStateNotReady        ErrorCode = PrefixLifecycle + "_0004"
	CodeInvalidStateTransition   ErrorCode = PrefixLifecycle + "_0005"
	CodeAlreadyPlaying           ErrorCode = PrefixPlayback + "_0001"
	CodeAlreadyPausing           ErrorCode = PrefixPlayback + "_0002"
	CodePlayFinished             ErrorCode = PrefixPlayback + "_0003"
	CodePlayIndexOutOfRange      ErrorCode = PrefixPlayback + "_0004"
	CodeKlineKeyNotFound         ErrorCode = PrefixData + "_0001"
	CodeKlineDataLengthNotSame   ErrorCode = PrefixData + "_0002"
	CodeIntervalNotSame          ErrorCode = PrefixData + "_0003"
	CodeInsufficientKlineData    ErrorCode = PrefixData + "_0004"
	CodeGetDataFailed            ErrorCode = PrefixData + "_0005"
	CodeGetDataByDatetimeFailed  ErrorCode = PrefixData + "_0006"
	CodeCustomVariableNotExist   ErrorCode = PrefixVariable + "_0001"
	CodeCusVarUpdateOpValueNone  ErrorCode = PrefixVariable + "_0002"
	CodeUnsupportedVariableOp    ErrorCode = PrefixVariable + "_0003"
	CodeDivideByZero             ErrorCode = PrefixVariable + "_0004"
	CodeOrderConfigNotFound      ErrorCode = PrefixNode + "_0006"
	CodeSysVariableSymbolIsNull  ErrorCode = PrefixNode + "_0007"
	CodeNodeBenchmarkNotFound    ErrorCode = PrefixNode + "_0008"
	CodeExchangeLoadFailed       ErrorCode = PrefixExternal + "_0001"
	CodeTaskJoinFailed           ErrorCode = PrefixExternal + "_0002"
	CodeChannelClosed            ErrorCode = PrefixExternal + "_0003"
)

var httpStatusByCode = map[ErrorCode]int{
	CodeNodeConfigNull:          http.StatusBadRequest,
	CodeEdgeConfigMissField:     http.StatusBadRequest,
	CodeCusVarUpdateOpValueNone: http.StatusBadRequest,
	CodeUnsupportedVariableOp:   http.StatusBadRequest,
	CodeIntervalNotSame:         http.StatusBadRequest,
	CodeNodeNotFound:            http.StatusNotFound,
	CodeKlineKeyNotFound:        http.StatusNotFound,
	CodeCustomVariableNotExist:  http.StatusNotFound,
	CodeNodeBenchmarkNotFound:   http.StatusNotFound,
	CodeAlreadyPlaying:          http.StatusConflict,
	CodeAlreadyPausing:          http.StatusConflict,
	CodeExchangeLoadFailed:      http.StatusServiceUnavailable,
}

var messagesEN = map[ErrorCode]string{
	CodeNodeConfigNull:          "node configuration is null",
	CodeEdgeConfigMissField:     "edge configuration is missing a required field",
	CodeNodeIDNull:              "node id is null",
	CodeConfigDeserialization:   "node configuration could not be deserialized",
	CodeNodeNotFound:            "node not found",
	CodeNodeCycleDetected:       "a cycle was detected in the strategy graph",
	CodeNodeInitFailed:          "node failed to initialize",
	CodeNodeInitTimeout:         "node initialization timed out",
	CodeNodeStopTimeout:         "node stop timed out",
	CodeNodeStateNotReady:       "node is not in a ready state",
	CodeInvalidStateTransition:  "invalid state transition",
	CodeAlreadyPlaying:          "strategy is already playing",
	CodeAlreadyPausing:          "strategy is already paused",
	CodePlayFinished:            "playback reached the end of available data",
	CodePlayIndexOutOfRange:     "play index is out of range",
	CodeKlineKeyNotFound:        "kline cache key not found",
	CodeKlineDataLengthNotSame:  "kline data lengths differ across symbols",
	CodeIntervalNotSame:         "symbols do not share a common interval",
	CodeInsufficientKlineData:   "insufficient kline data for requested range",
	CodeGetDataFailed:           "failed to read cached data",
	CodeGetDataByDatetimeFailed: "failed to read cached data by datetime",
	CodeCustomVariableNotExist:  "custom variable does not exist",
	CodeCusVarUpdateOpValueNone: "variable update operation value is missing",
	CodeUnsupportedVariableOp:   "unsupported variable operation",
	CodeDivideByZero:            "division by zero",
	CodeOrderConfigNotFound:     "order configuration not found",
	CodeSysVariableSymbolIsNull: "system variable symbol is null",
	CodeNodeBenchmarkNotFound:   "node benchmark not found",
	CodeExchangeLoadFailed:      "exchange data load failed",
	CodeTaskJoinFailed:          "background task failed to join",
	CodeChannelClosed:           "channel closed",
}

var messagesZH = map[ErrorCode]string{
	CodeNodeConfigNull:          "节点配置为空",
	CodeEdgeConfigMissField:     "边配置缺少必填字段",
	CodeNodeIDNull:              "节点ID为空",
	CodeConfigDeserialization:   "节点配置反序列化失败",
	CodeNodeNotFound:            "未找到节点",
	CodeNodeCycleDetected:       "策略图中检测到环",
	CodeNodeInitFailed:          "节点初始化失败",
	CodeNodeInitTimeout:         "节点初始化超时",
	CodeNodeStopTimeout:         "节点停止超时",
	CodeNodeStateNotReady:       "节点状态未就绪",
	CodeInvalidStateTransition:  "非法的状态转换",
	CodeAlreadyPlaying:          "策略已在播放中",
	CodeAlreadyPausing:          "策略已暂停",
	CodePlayFinished:            "回放已到达数据末尾",
	CodePlayIndexOutOfRange:     "播放索引越界",
	CodeKlineKeyNotFound:        "未找到K线缓存键",
	CodeKlineDataLengthNotSame:  "各symbol的K线数据长度不一致",
	CodeIntervalNotSame:         "symbol之间的周期不一致",
	CodeInsufficientKlineData:   "请求区间内K线数据不足",
	CodeGetDataFailed:           "读取缓存数据失败",
	CodeGetDataByDatetimeFailed: "按时间读取缓存数据失败",
	CodeCustomVariableNotExist:  "自定义变量不存在",
	CodeCusVarUpdateOpValueNone: "变量更新操作值缺失",
	CodeUnsupportedVariableOp:   "不支持的变量操作",
	CodeDivideByZero:            "除以零",
	CodeOrderConfigNotFound:     "未找到订单配置",
	CodeSysVariableSymbolIsNull: "系统变量symbol为空",
	CodeNodeBenchmarkNotFound:   "未找到节点性能记录",
	CodeExchangeLoadFailed:      "交易所数据加载失败",
	CodeTaskJoinFailed:          "后台任务join失败",
	CodeChannelClosed:           "通道已关闭",
}

// StrategyError is the repo-wide typed error: a stable code, a causal
// chain of codes from root to leaf, and a wrapped cause.
type StrategyError struct {
	Code  ErrorCode
	Chain []ErrorCode
	Cause error
}

// NewStrategyError builds a root StrategyError for code.
func NewStrategyError(code ErrorCode, cause error) *StrategyError {
	return &StrategyError{Code: code, Chain: []ErrorCode{code}, Cause: cause}
}

// Wrap builds a StrategyError whose chain is code prepended to cause's
// chain, if cause is itself a *StrategyError; otherwise behaves like
// NewStrategyError.
func Wrap(code ErrorCode, cause error) *StrategyError {
	var prev *StrategyError
	if errors.As(cause, &prev) {
		chain := make([]ErrorCode, 0, len(prev.Chain)+1)
		chain = append(chain, code)
		chain = append(chain, prev.Chain...)
		return &StrategyError{Code: code, Chain: chain, Cause: cause}
	}
	return NewStrategyError(code, cause)
}

func (e *StrategyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Cause.Error())
	}
	return string(e.Code)
}

func (e *StrategyError) Unwrap() error { return e.Cause }

// HTTPStatus maps the error's code to an HTTP status per the taxonomy's
// error-handling design; unmapped codes are internal errors.
func (e *StrategyError) HTTPStatus() int {
	if s, ok := httpStatusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Message returns the bilingual message for the error's code. lang is "en"
// or "zh"; anything else falls back to "en".
func (e *StrategyError) Message(lang string) string {
	table := messagesEN
	if lang == "zh" {
		table = messagesZH
	}
	if msg, ok := table[e.Code]; ok {
		return msg
	}
	return string(e.Code)
}

// CodeChain renders the causal chain root-to-leaf as strings, for the
// `error_code_chain` envelope field.
func (e *StrategyError) CodeChain() []string {
	out := make([]string, len(e.Chain))
	for i, c := range e.Chain {
		out[i] = string(c)
	}
	return out
}
