package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"medwatch-ingest/internal/config"
	"medwatch-ingest/internal/models"
	"medwatch-ingest/internal/repository"

	"go.uber.org/zap"
)

// AttemptStore 通知投递记录存储
type AttemptStore interface {
	GetAttempt(ctx context.Context, alertID, channel string) (*models.NotificationAttempt, error)
	UpsertAttempt(ctx context.Context, attempt *models.NotificationAttempt) error
}

// EventSink 投递结果的可观测事件出口（由事件广播器实现）
type EventSink func(stage models.StreamStage, summary map[string]interface{})

// Dispatcher 通知调度器
//
// 报警入队后管道即返回，不等待任何渠道完成。每个渠道独立发送、
// 独立重试；按 (alert_id, channel) 幂等，已 SENT 的组合重派是空操作。
type Dispatcher struct {
	channels    []Channel
	store       AttemptStore
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	sendTimeout time.Duration
	emit        EventSink
	logger      *zap.Logger

	queue  chan *models.EmergencyAlert
	wg     sync.WaitGroup
	sendWG sync.WaitGroup
	cancel context.CancelFunc
}

// NewDispatcher 创建调度器（按配置启用渠道）
func NewDispatcher(cfg *config.Config, store AttemptStore, emit EventSink, logger *zap.Logger) *Dispatcher {
	var channels []Channel
	ch := &cfg.Notify.Channels
	if ch.Email.Enabled {
		channels = append(channels, NewEmailChannel(ch))
	}
	if ch.Bot.Enabled {
		channels = append(channels, NewBotChannel(ch, cfg.Notify.Timeout))
	}
	if ch.SMS.Enabled {
		channels = append(channels, NewSMSChannel(ch, cfg.Notify.Timeout))
	}
	if ch.Webhook.Enabled {
		channels = append(channels, NewWebhookChannel(ch, cfg.Notify.Timeout))
	}

	return &Dispatcher{
		channels:    channels,
		store:       store,
		maxAttempts: cfg.Notify.MaxAttempts,
		backoffBase: cfg.Notify.BackoffBase,
		backoffMax:  cfg.Notify.BackoffMax,
		sendTimeout: cfg.Notify.Timeout,
		emit:        emit,
		logger:      logger,
		queue:       make(chan *models.EmergencyAlert, 256),
	}
}

// NewDispatcherWithChannels 用显式渠道列表创建调度器（测试用）
func NewDispatcherWithChannels(
	channels []Channel,
	store AttemptStore,
	maxAttempts int,
	backoffBase, backoffMax, sendTimeout time.Duration,
	emit EventSink,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		channels:    channels,
		store:       store,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
		sendTimeout: sendTimeout,
		emit:        emit,
		logger:      logger,
		queue:       make(chan *models.EmergencyAlert, 256),
	}
}

// Start 启动调度工作协程
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case alert, ok := <-d.queue:
				if !ok {
					return
				}
				d.fanOut(ctx, alert)
			}
		}
	}()
}

// Dispatch 报警入队（非阻塞；队列满时记录并丢弃，不拖慢管道）
func (d *Dispatcher) Dispatch(alert *models.EmergencyAlert) {
	select {
	case d.queue <- alert:
	default:
		d.logger.Error("Dispatch queue full, alert notification dropped",
			zap.String("alert_id", alert.ID),
		)
		d.emit(models.StageDispatch, map[string]interface{}{
			"alert_id": alert.ID,
			"result":   "queue_full",
		})
	}
}

// Stop 停止调度器，等待在途发送最多 grace 时长
//
// 超出宽限期的待重试通知记录为放弃，不静默丢失。
func (d *Dispatcher) Stop(grace time.Duration) {
	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		d.sendWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Notification dispatcher stopped")
	case <-time.After(grace):
		d.logger.Warn("Notification dispatcher stopped with pending retries abandoned",
			zap.Duration("grace", grace),
		)
	}
}

// fanOut 向全部渠道并行扇出（渠道之间互不等待、互不影响）
func (d *Dispatcher) fanOut(ctx context.Context, alert *models.EmergencyAlert) {
	for _, channel := range d.channels {
		d.sendWG.Add(1)
		go func(ch Channel) {
			defer d.sendWG.Done()
			d.sendWithRetry(ctx, alert, ch)
		}(channel)
	}
}

// sendWithRetry 单渠道发送，带幂等检查和有界指数退避
func (d *Dispatcher) sendWithRetry(ctx context.Context, alert *models.EmergencyAlert, channel Channel) {
	// 幂等：该 (alert, channel) 已 SENT 则不再发送
	existing, err := d.store.GetAttempt(ctx, alert.ID, channel.Name())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		d.logger.Error("Failed to check notification attempt",
			zap.String("alert_id", alert.ID),
			zap.String("channel", channel.Name()),
			zap.Error(err),
		)
	}
	if existing != nil && existing.Status == models.NotificationSent {
		return
	}

	attempt := &models.NotificationAttempt{
		AlertID: alert.ID,
		Channel: channel.Name(),
	}
	if existing != nil {
		attempt.ID = existing.ID
		attempt.AttemptCount = existing.AttemptCount
	}

	backoff := d.backoffBase
	for attempt.AttemptCount < d.maxAttempts {
		attempt.AttemptCount++

		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := channel.Send(sendCtx, alert)
		cancel()

		if err == nil {
			attempt.Status = models.NotificationSent
			attempt.LastError = ""
			d.recordAttempt(ctx, attempt)
			d.emit(models.StageDispatch, map[string]interface{}{
				"alert_id": alert.ID,
				"channel":  channel.Name(),
				"result":   string(models.NotificationSent),
				"attempts": attempt.AttemptCount,
			})
			return
		}

		attempt.LastError = err.Error()
		d.logger.Warn("Notification send failed",
			zap.String("alert_id", alert.ID),
			zap.String("channel", channel.Name()),
			zap.Int("attempt", attempt.AttemptCount),
			zap.Error(err),
		)

		if attempt.AttemptCount >= d.maxAttempts {
			break
		}

		attempt.Status = models.NotificationRetrying
		d.recordAttempt(ctx, attempt)

		select {
		case <-ctx.Done():
			d.logger.Warn("Notification retry abandoned on shutdown",
				zap.String("alert_id", alert.ID),
				zap.String("channel", channel.Name()),
			)
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > d.backoffMax {
			backoff = d.backoffMax
		}
	}

	// 重试到上限：永久 FAILED，上报可观测事件
	attempt.Status = models.NotificationFailed
	d.recordAttempt(ctx, attempt)
	d.emit(models.StageDispatch, map[string]interface{}{
		"alert_id": alert.ID,
		"channel":  channel.Name(),
		"result":   string(models.NotificationFailed),
		"attempts": attempt.AttemptCount,
		"error":    attempt.LastError,
	})
}

func (d *Dispatcher) recordAttempt(ctx context.Context, attempt *models.NotificationAttempt) {
	if err := d.store.UpsertAttempt(ctx, attempt); err != nil {
		d.logger.Error("Failed to record notification attempt",
			zap.String("alert_id", attempt.AlertID),
			zap.String("channel", attempt.Channel),
			zap.Error(err),
		)
	}
}
