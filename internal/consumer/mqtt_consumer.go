package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"medwatch-ingest/internal/config"
	"medwatch-ingest/internal/decoder"
	"medwatch-ingest/internal/models"
	"medwatch-ingest/internal/mqtt"

	"go.uber.org/zap"
)

// MessageSource MQTT订阅端，*mqtt.Client 满足
type MessageSource interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Processor 消息处理端，*service.Pipeline 满足
type Processor interface {
	ProcessWithRetry(ctx context.Context, raw models.RawMessage, retries int, backoff time.Duration) error
}

// MQTTConsumer MQTT消息消费者
//
// 每个设备家族一个有界队列和一个消费工作协程：订阅回调只入队，
// 队列满时回调阻塞，把背压交给 MQTT 客户端，而不是无界堆积。
type MQTTConsumer struct {
	config   *config.Config
	source   MessageSource
	registry *decoder.Registry
	pipeline Processor
	logger   *zap.Logger

	queues map[models.DeviceFamily]chan models.RawMessage
	wg     sync.WaitGroup

	// 订阅回调跑在 MQTT 客户端自己的协程上，Stop 关队列前必须先
	// 挡住新的入队，否则 close 会撞上在途的 send。
	mu     sync.RWMutex
	closed bool
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	cfg *config.Config,
	source MessageSource,
	registry *decoder.Registry,
	pipeline Processor,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:   cfg,
		source:   source,
		registry: registry,
		pipeline: pipeline,
		logger:   logger,
		queues:   make(map[models.DeviceFamily]chan models.RawMessage),
	}
}

// Start 启动消费者
func (c *MQTTConsumer) Start(ctx context.Context) error {
	// 每个家族一个队列 + 工作协程
	families := []models.DeviceFamily{models.FamilyESP32, models.FamilyWatch, models.FamilyCM4}
	for _, family := range families {
		queue := make(chan models.RawMessage, c.config.Pipeline.QueueSize)
		c.queues[family] = queue

		c.wg.Add(1)
		go c.worker(ctx, family, queue)
	}

	// 订阅全部已注册主题
	for _, topic := range c.registry.Topics() {
		if err := c.source.Subscribe(topic, c.config.MQTT.QoS, c.makeHandler(ctx)); err != nil {
			return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
		}
	}

	c.logger.Info("MQTT consumer started",
		zap.Strings("topics", c.registry.Topics()),
		zap.Int("queue_size", c.config.Pipeline.QueueSize),
	)
	return nil
}

// Stop 停止消费者：取消订阅，拒绝后续入队，排空在途消息直到宽限期
func (c *MQTTConsumer) Stop() {
	if err := c.source.Unsubscribe(c.registry.Topics()...); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	// 写锁要等所有持读锁的在途入队完成，之后 closed 挡住迟到回调，
	// close 才不会撞上 send
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	for _, queue := range c.queues {
		close(queue)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("MQTT consumer stopped, queues drained")
	case <-time.After(c.config.Shutdown.Grace):
		c.logger.Warn("MQTT consumer stopped before queues fully drained",
			zap.Duration("grace", c.config.Shutdown.Grace),
		)
	}
}

// makeHandler 构建订阅回调：按主题路由到所属家族的队列
func (c *MQTTConsumer) makeHandler(ctx context.Context) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		dec := c.registry.DecoderFor(topic)
		if dec == nil {
			return fmt.Errorf("no decoder registered for topic %s", topic)
		}
		queue, ok := c.queues[dec.Family()]
		if !ok {
			return fmt.Errorf("no queue for family %s", dec.Family())
		}

		raw := models.RawMessage{
			Topic:      topic,
			Payload:    append([]byte(nil), payload...),
			ReceivedAt: time.Now(),
		}

		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.closed {
			return fmt.Errorf("consumer stopping, message on topic %s rejected", topic)
		}

		select {
		case queue <- raw:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// worker 单个家族的消费循环
func (c *MQTTConsumer) worker(ctx context.Context, family models.DeviceFamily, queue chan models.RawMessage) {
	defer c.wg.Done()

	c.logger.Info("Ingest worker started", zap.String("family", string(family)))

	for raw := range queue {
		err := c.pipeline.ProcessWithRetry(ctx, raw,
			c.config.Pipeline.StorageRetries,
			c.config.Pipeline.StorageBackoff,
		)
		if err != nil {
			// 存储重试耗尽：记录后继续消费，临床数据丢失已在日志留痕
			c.logger.Error("Message abandoned after storage retries exhausted",
				zap.String("family", string(family)),
				zap.String("topic", raw.Topic),
				zap.Error(err),
			)
		}
	}

	c.logger.Info("Ingest worker stopped", zap.String("family", string(family)))
}
