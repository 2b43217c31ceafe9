package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"medwatch-ingest/internal/alert"
	"medwatch-ingest/internal/broadcaster"
	"medwatch-ingest/internal/decoder"
	"medwatch-ingest/internal/models"
	"medwatch-ingest/internal/normalizer"
	"medwatch-ingest/internal/notifier"
	"medwatch-ingest/internal/resolver"

	"go.uber.org/zap"
)

// StatusStore 设备状态写入端
type StatusStore interface {
	UpsertStatus(ctx context.Context, ev *models.DeviceStatusEvent) error
	UpdateLocation(ctx context.Context, deviceRef string, loc *models.GeoLocation) error
}

// Pipeline 接入管道：解码 → 患者解析 → 医院解析 → 标准化 → 报警 → 通知
//
// 每个阶段的结果同时推送一份到事件广播器。解码失败只记录并丢弃；
// 存储协作方不可用是唯一让消息重试的失败类别，以错误形式返回给
// 消费端的消息级重试。
type Pipeline struct {
	registry   *decoder.Registry
	patients   *resolver.PatientResolver
	hospitals  *resolver.HospitalResolver
	normalizer *normalizer.Normalizer
	detector   *alert.Detector
	dispatcher *notifier.Dispatcher
	status     StatusStore
	feed       *broadcaster.Broadcaster
	logger     *zap.Logger

	decodeErrors atomic.Int64
}

// NewPipeline 创建管道
func NewPipeline(
	registry *decoder.Registry,
	patients *resolver.PatientResolver,
	hospitals *resolver.HospitalResolver,
	norm *normalizer.Normalizer,
	detector *alert.Detector,
	dispatcher *notifier.Dispatcher,
	status StatusStore,
	feed *broadcaster.Broadcaster,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		registry:   registry,
		patients:   patients,
		hospitals:  hospitals,
		normalizer: norm,
		detector:   detector,
		dispatcher: dispatcher,
		status:     status,
		feed:       feed,
		logger:     logger,
	}
}

// DecodeErrorCount 累计解码失败数
func (p *Pipeline) DecodeErrorCount() int64 {
	return p.decodeErrors.Load()
}

// Process 处理一条原始消息
//
// 返回非 nil 错误仅表示存储写入失败，调用方按消息级退避重试；
// 其余失败类别都在本方法内隔离消化。
func (p *Pipeline) Process(ctx context.Context, raw models.RawMessage) error {
	dec := p.registry.DecoderFor(raw.Topic)
	if dec == nil {
		p.recordDecodeError(raw.Topic, "unknown topic", raw.Payload)
		return nil
	}

	result, err := dec.Decode(raw.Topic, raw.Payload, raw.ReceivedAt)
	if err != nil {
		var decodeErr *decoder.DecodeError
		if errors.As(err, &decodeErr) {
			p.recordDecodeError(raw.Topic, decodeErr.Reason, raw.Payload)
			return nil
		}
		p.recordDecodeError(raw.Topic, err.Error(), raw.Payload)
		return nil
	}

	p.feed.Publish(models.StageDecode, map[string]interface{}{
		"topic":    raw.Topic,
		"family":   string(dec.Family()),
		"readings": len(result.Readings),
	})

	if result.Status != nil {
		if err := p.status.UpsertStatus(ctx, result.Status); err != nil {
			return fmt.Errorf("device status write: %w", err)
		}
		p.feed.Publish(models.StageDeviceStatus, map[string]interface{}{
			"device_ref": result.Status.DeviceRef,
			"online":     result.Status.Online,
		})
	}

	for i := range result.Readings {
		if err := p.processReading(ctx, &result.Readings[i]); err != nil {
			return err
		}
	}
	return nil
}

// processReading 处理单条规范化读数
func (p *Pipeline) processReading(ctx context.Context, reading *models.MedicalReading) error {
	// GPS 坐标随手刷新最近已知位置（WiFi/LBS 来源不携带可用坐标）
	if reading.Location != nil && reading.Location.Source == "GPS" {
		if err := p.status.UpdateLocation(ctx, reading.DeviceRef, reading.Location); err != nil {
			return fmt.Errorf("device location write: %w", err)
		}
	}

	// 纯位置读数只刷新最近已知位置，不走解析、标准化和报警检测
	if reading.MeasurementType == models.MeasurementLocation {
		p.feed.Publish(models.StageDeviceStatus, map[string]interface{}{
			"device_ref":      reading.DeviceRef,
			"location_update": true,
		})
		return nil
	}

	link, err := p.patients.Resolve(ctx, reading.DeviceFamily, reading.DeviceRef, reading.GatewayRef)
	if err != nil {
		return fmt.Errorf("patient resolution: %w", err)
	}
	p.feed.Publish(models.StagePatientResolve, map[string]interface{}{
		"device_ref": reading.DeviceRef,
		"patient_id": link.PatientID,
		"source":     string(link.Source),
	})

	hctx, err := p.hospitals.Resolve(ctx, reading.DeviceFamily, link, reading.GatewayRef)
	if err != nil {
		return fmt.Errorf("hospital resolution: %w", err)
	}
	p.feed.Publish(models.StageHospitalResolve, map[string]interface{}{
		"patient_id":  link.PatientID,
		"hospital_id": hctx.HospitalID,
		"source":      string(hctx.Source),
	})

	obs, err := p.normalizer.Normalize(ctx, reading, link, &hctx)
	if err != nil {
		return fmt.Errorf("normalization: %w", err)
	}
	summary := map[string]interface{}{
		"patient_id":       link.PatientID,
		"measurement_type": string(reading.MeasurementType),
		"observation":      obs != nil,
	}
	if obs != nil {
		summary["resource_id"] = obs.ResourceID
	}
	p.feed.Publish(models.StageNormalize, summary)

	emergency, created, err := p.detector.Inspect(ctx, reading, link, hctx)
	if err != nil {
		return fmt.Errorf("emergency inspection: %w", err)
	}
	if emergency != nil {
		p.feed.Publish(models.StageAlert, map[string]interface{}{
			"alert_id":   emergency.ID,
			"patient_id": emergency.PatientID,
			"alert_type": string(emergency.AlertType),
			"priority":   string(emergency.Priority),
			"created":    created,
		})
		if created {
			p.dispatcher.Dispatch(emergency)
		}
	}
	return nil
}

// recordDecodeError 记录解码失败：日志 + 计数 + 阶段事件，消息丢弃
func (p *Pipeline) recordDecodeError(topic, reason string, payload []byte) {
	p.decodeErrors.Add(1)
	p.logger.Warn("Message dropped: decode failed",
		zap.String("topic", topic),
		zap.String("reason", reason),
		zap.ByteString("payload", truncatePayload(payload, 128)),
	)
	p.feed.Publish(models.StageDecodeError, map[string]interface{}{
		"topic":  topic,
		"reason": reason,
	})
}

func truncatePayload(payload []byte, n int) []byte {
	if len(payload) <= n {
		return payload
	}
	return payload[:n]
}

// ProcessWithRetry 带消息级退避重试的处理入口
//
// 只有存储类失败会走到这里的重试；重试耗尽后记录并放弃该消息
// （调用方负责决定是否继续消费）。
func (p *Pipeline) ProcessWithRetry(ctx context.Context, raw models.RawMessage, retries int, backoff time.Duration) error {
	var err error
	wait := backoff
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}
		err = p.Process(ctx, raw)
		if err == nil {
			return nil
		}
		p.logger.Error("Pipeline storage write failed, message will be retried",
			zap.String("topic", raw.Topic),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return err
}
