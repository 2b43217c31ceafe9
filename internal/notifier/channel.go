// Package notifier 把报警扇出到配置的通知渠道
//
// 每个渠道是 Channel 接口的一个实现，发送相互隔离：一个渠道失败或
// 重试不阻塞其他渠道。失败按有界指数退避重试到上限，之后永久标记
// FAILED 并作为可观测事件上报，不再无限重排队。
package notifier

import (
	"context"
	"fmt"

	"medwatch-ingest/internal/models"
)

// Channel 通知渠道（统一发送接口）
type Channel interface {
	Name() string
	Send(ctx context.Context, alert *models.EmergencyAlert) error
}

// alertText 渠道共用的报警文本
func alertText(alert *models.EmergencyAlert) string {
	text := fmt.Sprintf("[%s] %s alert for patient %s (hospital %s), created %s",
		alert.Priority, alert.AlertType, alert.PatientID, alert.HospitalID,
		alert.CreatedAt.Format("2006-01-02 15:04:05"),
	)
	if alert.Location != nil && alert.Location.Source == "GPS" {
		text += fmt.Sprintf(", location %.5f,%.5f", alert.Location.Latitude, alert.Location.Longitude)
	}
	return text
}
