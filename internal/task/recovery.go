package task

import "context"

// RecoveryHandler 在任务执行失败后尝试给出降级结果。
//
// 典型实现可以在链上交易失败时仅保留已验证的推理输出，或改用
// 缓存的估值数据。返回的 ExecutionResult 会作为降级结果写入任务；
// 返回 nil 表示放弃补偿，任务继续走失败流程。
type RecoveryHandler interface {
	Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error)
}
