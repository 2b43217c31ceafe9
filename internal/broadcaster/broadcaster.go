// Package broadcaster 实现管道事件的实时扇出
//
// 每个管道阶段的结果都作为 StreamEvent 进入：
//   - 固定容量的环形历史缓冲（溢出时淘汰最旧），供新订阅者补看；
//   - 每个在线订阅者的有界队列，满时丢弃该订阅者最旧的一条。
//
// 慢订阅者绝不反压采集：发布方从不阻塞。
package broadcaster

import (
	"sync"
	"time"

	"medwatch-ingest/internal/models"

	"go.uber.org/zap"
)

// Subscriber 单个订阅者（有界队列，drop-oldest）
type Subscriber struct {
	ch      chan models.StreamEvent
	dropped int64
}

// Events 订阅者的事件通道
func (s *Subscriber) Events() <-chan models.StreamEvent {
	return s.ch
}

// Broadcaster 事件广播器
type Broadcaster struct {
	mu          sync.Mutex
	history     []models.StreamEvent // 环形缓冲
	next        int                  // 下一个写入位置
	filled      bool                 // 缓冲是否已写满一圈
	historySize int
	bufferSize  int
	subs        map[*Subscriber]struct{}
	logger      *zap.Logger
}

// New 创建广播器
func New(historySize, subscriberBuffer int, logger *zap.Logger) *Broadcaster {
	if historySize <= 0 {
		historySize = 100
	}
	if subscriberBuffer <= 0 {
		subscriberBuffer = 16
	}
	return &Broadcaster{
		history:     make([]models.StreamEvent, historySize),
		historySize: historySize,
		bufferSize:  subscriberBuffer,
		subs:        make(map[*Subscriber]struct{}),
		logger:      logger,
	}
}

// Publish 发布一条阶段事件（从不阻塞）
func (b *Broadcaster) Publish(stage models.StreamStage, summary map[string]interface{}) {
	event := models.StreamEvent{
		Stage:     stage,
		Summary:   summary,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.history[b.next] = event
	b.next++
	if b.next == b.historySize {
		b.next = 0
		b.filled = true
	}

	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			// 订阅者队列满：丢最旧一条再放入，绝不阻塞发布方
			select {
			case <-sub.ch:
				sub.dropped++
			default:
			}
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
}

// History 返回按时间序排列的历史缓冲快照
func (b *Broadcaster) History() []models.StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.filled {
		out := make([]models.StreamEvent, b.next)
		copy(out, b.history[:b.next])
		return out
	}

	out := make([]models.StreamEvent, 0, b.historySize)
	out = append(out, b.history[b.next:]...)
	out = append(out, b.history[:b.next]...)
	return out
}

// Subscribe 注册订阅者
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan models.StreamEvent, b.bufferSize)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug("Feed subscriber added", zap.Int("subscribers", count))
	return sub
}

// Unsubscribe 注销订阅者并关闭其通道
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	_, ok := b.subs[sub]
	if ok {
		delete(b.subs, sub)
	}
	dropped := sub.dropped
	b.mu.Unlock()

	if !ok {
		return
	}
	close(sub.ch)
	if dropped > 0 {
		b.logger.Debug("Feed subscriber removed",
			zap.Int64("dropped_events", dropped),
		)
	}
}
