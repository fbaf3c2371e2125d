package task

import "context"

// Handler 消费队列中的任务 ID，由处理器绑定具体的执行逻辑。
// 返回错误表示本次消费失败，是否重投由各队列实现自行决定。
type Handler func(ctx context.Context, taskID string) error

// Producer 向队列投递待执行的推理任务。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 以固定数量的工作协程消费队列。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备投递与消费能力，守护进程按配置选择内存、Redis 或
// RabbitMQ 实现。
type Queue interface {
	Producer
	Consumer
}
