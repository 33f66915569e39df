// Package protocol 定义 broker 与客户端之间的消息格式：事件名、信封、结果与请求载荷。
package protocol

import "strings"

// 命令名，请求事件为 <命令>-req，响应事件为 <命令>-res
const (
	CmdPortList             = "port-list"
	CmdOpenPorts            = "get-openports"
	CmdActiveSlaves         = "active-slave"
	CmdOpenPort             = "open-port"
	CmdClosePort            = "close-port"
	CmdReadBuffer           = "rx-buffer"
	CmdWriteBuffer          = "tx-buffer"
	CmdCreateModbus         = "create-mdb-slave"
	CmdOpenModbus           = "open-mdb-slave"
	CmdCloseModbus          = "close-mdb-slave"
	CmdFreeModbus           = "free-mdb-slave"
	CmdSetNodeAddress       = "set-mdb-slave-addr"
	CmdReadInputRegisters   = "read-mdb-input-regs"
	CmdReadHoldingRegisters = "read-mdb-holding-regs"
	CmdWriteHoldingRegister = "write-mdb-holding-reg"
	CmdWriteHoldingRegs     = "write-mdb-holding-regs"
	CmdReadDeviceID         = "read-device-id"
)

const (
	// EventKillProcess 没有 -req/-res 后缀，broker 收到后以 KillExitCode 退出
	EventKillProcess = "kill-process"
	// EventServerError 是校验失败时的响应事件
	EventServerError = "server-error"

	// KillExitCode 是 kill-process 对应的进程退出码
	KillExitCode = 10
)

const (
	reqSuffix = "-req"
	resSuffix = "-res"
)

// RequestEvent 返回命令对应的请求事件名
func RequestEvent(cmd string) string {
	if cmd == EventKillProcess {
		return cmd
	}
	return cmd + reqSuffix
}

// ResponseEvent 返回命令对应的响应事件名
func ResponseEvent(cmd string) string {
	return cmd + resSuffix
}

// CommandOf 从请求事件名中取出命令名
func CommandOf(event string) (string, bool) {
	if event == EventKillProcess {
		return event, true
	}
	if !strings.HasSuffix(event, reqSuffix) {
		return "", false
	}
	return strings.TrimSuffix(event, reqSuffix), true
}
