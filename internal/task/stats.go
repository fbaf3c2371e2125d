package task

// TaskStats 汇总各状态任务的数量，供 /api/v1/tasks/stats 与健康检查使用。
// OldestUpdatedAt/NewestUpdatedAt 反映匹配任务的活跃时间窗口。
type TaskStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// SuccessRate 返回终态任务中成功的比例，无终态任务时为 0。
func (s TaskStats) SuccessRate() float64 {
	terminal := s.Succeeded + s.Failed
	if terminal == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(terminal)
}
