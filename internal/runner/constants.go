package runner

// 系统常量定义

const (
	// 停止时等待 bridge 流发送关闭帧的宽限期(毫秒)
	STOP_GRACE_MS = 2000

	// 看门狗检查间隔(秒)
	WATCHDOG_CHECK_INTERVAL_SECONDS = 5
	// 空闲后连续多少次检查有活动才视为恢复
	WATCHDOG_RECOVERY_CHECKS = 2
)
