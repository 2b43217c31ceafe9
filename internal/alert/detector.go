// Package alert 实现紧急情况检测与报警状态机
//
// 状态机：NONE → ACTIVE → PROCESSED。触发条件：SOS 信号、跌倒信号、
// 生命体征阈值越界。同患者同类型在去重窗口内的重复信号不新建报警，
// 只刷新 last_seen。PROCESSED 只能由外部确认调用驱动，检测器从不
// 自动关闭报警。
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"medwatch-ingest/internal/config"
	"medwatch-ingest/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertStore 报警持久化端
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *models.EmergencyAlert) error
	TouchAlert(ctx context.Context, alertID string, lastSeen time.Time) error
	AcknowledgeAlert(ctx context.Context, alertID string) (*models.EmergencyAlert, error)
}

// ThresholdStore 患者级阈值覆盖查询端
//
// 无覆盖的患者返回空表而不是错误。
type ThresholdStore interface {
	PatientThresholds(ctx context.Context, patientID string) (map[string]*config.Threshold, error)
}

// Detector 紧急情况检测器
type Detector struct {
	store        AlertStore
	patientStore ThresholdStore
	redisClient  *redis.Client
	thresholds   map[string]*config.Threshold
	dedupWindow  time.Duration
	logger       *zap.Logger

	// 同一报警键上的窗口检查与状态转换必须串行
	keyLocks sync.Map // map[string]*sync.Mutex
}

// NewDetector 创建检测器
//
// patientStore 可为 nil，此时只用机构默认阈值。
func NewDetector(
	store AlertStore,
	patientStore ThresholdStore,
	redisClient *redis.Client,
	thresholds map[string]*config.Threshold,
	dedupWindow time.Duration,
	logger *zap.Logger,
) *Detector {
	return &Detector{
		store:        store,
		patientStore: patientStore,
		redisClient:  redisClient,
		thresholds:   thresholds,
		dedupWindow:  dedupWindow,
		logger:       logger,
	}
}

// Inspect 检查一条读数，必要时开启报警
//
// 返回 (报警, 是否新建)。重复信号返回已有报警ID且 created=false。
// 非紧急读数返回 (nil, false)。
func (d *Detector) Inspect(ctx context.Context, reading *models.MedicalReading, link models.PatientLink, hctx models.HospitalContext) (*models.EmergencyAlert, bool, error) {
	alertType, priority, trigger := d.classify(ctx, reading, link.PatientID)
	if alertType == "" {
		return nil, false, nil
	}

	key := dedupKey(link.PatientID, alertType)
	lock := d.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()

	existingID, err := d.redisClient.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return nil, false, fmt.Errorf("dedup window check failed: %w", err)
	}
	if err == nil && existingID != "" {
		// 窗口内的重复信号：刷新 last_seen 与窗口，不新建
		if err := d.store.TouchAlert(ctx, existingID, now); err != nil {
			return nil, false, err
		}
		if err := d.redisClient.Expire(ctx, key, d.dedupWindow).Err(); err != nil {
			d.logger.Warn("Failed to refresh alert dedup window", zap.Error(err))
		}
		d.logger.Info("Repeated emergency signal within dedup window",
			zap.String("alert_id", existingID),
			zap.String("patient_id", link.PatientID),
			zap.String("alert_type", string(alertType)),
		)
		return &models.EmergencyAlert{
			ID:         existingID,
			PatientID:  link.PatientID,
			HospitalID: hctx.HospitalID,
			AlertType:  alertType,
			Priority:   priority,
			Status:     models.AlertActive,
			LastSeenAt: now,
		}, false, nil
	}

	alert := &models.EmergencyAlert{
		ID:          uuid.New().String(),
		PatientID:   link.PatientID,
		HospitalID:  hctx.HospitalID,
		AlertType:   alertType,
		Priority:    priority,
		Status:      models.AlertActive,
		Measurement: reading.MeasurementType,
		TriggerData: trigger,
		Location:    reading.Location,
		CreatedAt:   now,
		LastSeenAt:  now,
	}

	if err := d.store.CreateAlert(ctx, alert); err != nil {
		return nil, false, err
	}
	if err := d.redisClient.Set(ctx, key, alert.ID, d.dedupWindow).Err(); err != nil {
		// 窗口写失败不回滚报警：宁可偶发重复也不丢报警
		d.logger.Warn("Failed to set alert dedup window", zap.Error(err))
	}

	return alert, true, nil
}

// Acknowledge 外部确认：ACTIVE → PROCESSED，并清除去重键
func (d *Detector) Acknowledge(ctx context.Context, alertID string) (*models.EmergencyAlert, error) {
	alert, err := d.store.AcknowledgeAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	key := dedupKey(alert.PatientID, alert.AlertType)
	lock := d.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if err := d.redisClient.Del(ctx, key).Err(); err != nil {
		d.logger.Warn("Failed to clear alert dedup key",
			zap.String("alert_id", alertID),
			zap.Error(err),
		)
	}
	return alert, nil
}

// classify 判定报警类型与优先级
//
// SOS 与跌倒固定 CRITICAL；阈值越界按两档严重度（HIGH/MEDIUM），
// 阈值取患者级覆盖，缺省回退机构默认；其余读数不报警。
func (d *Detector) classify(ctx context.Context, reading *models.MedicalReading, patientID string) (models.AlertType, models.AlertPriority, map[string]interface{}) {
	switch reading.MeasurementType {
	case models.MeasurementSOS:
		return models.AlertSOS, models.PriorityCritical, map[string]interface{}{
			"signal": "SOS",
		}
	case models.MeasurementFall:
		return models.AlertFall, models.PriorityCritical, map[string]interface{}{
			"signal": "FALL",
		}
	}

	breaches := evaluateThresholds(reading, d.effectiveThresholds(ctx, patientID))
	if len(breaches) == 0 {
		return "", "", nil
	}

	trigger := map[string]interface{}{
		"measurement_type": string(reading.MeasurementType),
	}
	details := make([]map[string]interface{}, 0, len(breaches))
	for _, b := range breaches {
		details = append(details, map[string]interface{}{
			"key":   b.Key,
			"value": b.Value,
			"bound": b.Bound,
			"upper": b.Upper,
		})
	}
	trigger["breaches"] = details

	return models.AlertOther, worstSeverity(breaches), trigger
}

// effectiveThresholds 合并患者级覆盖与机构默认阈值
//
// 覆盖按测量键整条替换。查询失败降级为机构默认：阈值检测不能因
// 覆盖源不可用而整体停摆。
func (d *Detector) effectiveThresholds(ctx context.Context, patientID string) map[string]*config.Threshold {
	if d.patientStore == nil || patientID == "" {
		return d.thresholds
	}

	overrides, err := d.patientStore.PatientThresholds(ctx, patientID)
	if err != nil {
		d.logger.Warn("Patient threshold lookup failed, using facility defaults",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		return d.thresholds
	}
	if len(overrides) == 0 {
		return d.thresholds
	}

	merged := make(map[string]*config.Threshold, len(d.thresholds)+len(overrides))
	for key, th := range d.thresholds {
		merged[key] = th
	}
	for key, th := range overrides {
		merged[key] = th
	}
	return merged
}

func (d *Detector) lockFor(key string) *sync.Mutex {
	actual, _ := d.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func dedupKey(patientID string, alertType models.AlertType) string {
	return fmt.Sprintf("alert:active:%s:%s", patientID, alertType)
}
