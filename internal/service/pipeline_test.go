package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"medwatch-ingest/internal/alert"
	"medwatch-ingest/internal/broadcaster"
	"medwatch-ingest/internal/config"
	"medwatch-ingest/internal/decoder"
	"medwatch-ingest/internal/models"
	"medwatch-ingest/internal/normalizer"
	"medwatch-ingest/internal/notifier"
	"medwatch-ingest/internal/repository"
	"medwatch-ingest/internal/resolver"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ============================================
// 管道端到端测试的内存协作方
// ============================================

type memPatients struct {
	mu          sync.Mutex
	byID        map[string]*repository.Patient
	byDeviceRef map[string]*repository.Patient
}

func newMemPatients() *memPatients {
	return &memPatients{
		byID:        make(map[string]*repository.Patient),
		byDeviceRef: make(map[string]*repository.Patient),
	}
}

func (m *memPatients) add(p *repository.Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[p.PatientID] = p
	if p.DeviceRef != "" {
		m.byDeviceRef[p.DeviceRef] = p
	}
}

func (m *memPatients) GetByID(_ context.Context, id string) (*repository.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[id]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memPatients) FindByDeviceRef(_ context.Context, ref string) (*repository.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byDeviceRef[ref]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memPatients) CreatePlaceholder(_ context.Context, ref string) (*repository.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byDeviceRef[ref]; ok {
		return p, nil
	}
	p := &repository.Patient{PatientID: "placeholder-" + ref, DeviceRef: ref, Unregistered: true}
	m.byID[p.PatientID] = p
	m.byDeviceRef[ref] = p
	return p, nil
}

func (m *memPatients) PatientThresholds(context.Context, string) (map[string]*config.Threshold, error) {
	return map[string]*config.Threshold{}, nil
}

type memRegistry struct{}

func (memRegistry) FindByIdentifier(context.Context, string) (*repository.RegistryEntry, error) {
	return nil, repository.ErrNotFound
}
func (memRegistry) FindFacilityDeviceByGateway(context.Context, string) (*repository.FacilityDevice, error) {
	return nil, repository.ErrNotFound
}
func (memRegistry) FindBoxByGateway(context.Context, string) (*repository.BoxEntry, error) {
	return nil, repository.ErrNotFound
}

type memResources struct {
	mu           sync.Mutex
	orgs         map[string]string
	observations []*models.Observation
}

func newMemResources() *memResources {
	return &memResources{orgs: make(map[string]string)}
}

func (m *memResources) EnsureOrganization(_ context.Context, hospitalID, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.orgs[hospitalID]; ok {
		return id, nil
	}
	id := "org-" + hospitalID
	m.orgs[hospitalID] = id
	return id, nil
}

func (m *memResources) EnsureLocation(_ context.Context, hospitalID, _, _ string) (string, error) {
	return "loc-" + hospitalID, nil
}

func (m *memResources) UpsertDevice(_ context.Context, identifier string, _ models.DeviceFamily, _ string) (string, error) {
	return "dev-" + identifier, nil
}

func (m *memResources) CreateObservation(_ context.Context, obs *models.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations = append(m.observations, obs)
	return nil
}

func (m *memResources) observationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observations)
}

type memAlerts struct {
	mu     sync.Mutex
	alerts map[string]*models.EmergencyAlert
}

func newMemAlerts() *memAlerts {
	return &memAlerts{alerts: make(map[string]*models.EmergencyAlert)}
}

func (m *memAlerts) CreateAlert(_ context.Context, a *models.EmergencyAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *a
	m.alerts[a.ID] = &stored
	return nil
}

func (m *memAlerts) TouchAlert(_ context.Context, id string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.alerts[id]; ok {
		a.LastSeenAt = lastSeen
	}
	return nil
}

func (m *memAlerts) AcknowledgeAlert(_ context.Context, id string) (*models.EmergencyAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	a.Status = models.AlertProcessed
	copied := *a
	return &copied, nil
}

func (m *memAlerts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

type memAttempts struct {
	mu       sync.Mutex
	attempts map[string]*models.NotificationAttempt
}

func newMemAttempts() *memAttempts {
	return &memAttempts{attempts: make(map[string]*models.NotificationAttempt)}
}

func (m *memAttempts) GetAttempt(_ context.Context, alertID, channel string) (*models.NotificationAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.attempts[alertID+"/"+channel]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memAttempts) UpsertAttempt(_ context.Context, a *models.NotificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *a
	m.attempts[a.AlertID+"/"+a.Channel] = &copied
	return nil
}

type memStatus struct {
	mu        sync.Mutex
	events    []*models.DeviceStatusEvent
	locations map[string]*models.GeoLocation
	failures  int // 前 N 次调用返回错误，模拟存储不可用
}

func (m *memStatus) UpsertStatus(_ context.Context, ev *models.DeviceStatusEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("storage unavailable")
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *memStatus) UpdateLocation(_ context.Context, deviceRef string, loc *models.GeoLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locations == nil {
		m.locations = make(map[string]*models.GeoLocation)
	}
	m.locations[deviceRef] = loc
	return nil
}

type recordChannel struct {
	mu    sync.Mutex
	sent  []*models.EmergencyAlert
}

func (c *recordChannel) Name() string { return "record" }

func (c *recordChannel) Send(_ context.Context, a *models.EmergencyAlert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, a)
	return nil
}

func (c *recordChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// ============================================
// 测试装配
// ============================================

type pipelineFixture struct {
	pipeline  *Pipeline
	patients  *memPatients
	resources *memResources
	alerts    *memAlerts
	status    *memStatus
	channel   *recordChannel
	feed      *broadcaster.Broadcaster
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zap.NewNop()
	patients := newMemPatients()
	registry := memRegistry{}
	resources := newMemResources()
	alerts := newMemAlerts()
	attempts := newMemAttempts()
	status := &memStatus{}
	channel := &recordChannel{}
	feed := broadcaster.New(100, 16, logger)

	thresholds := map[string]*config.Threshold{
		"heart_rate": {Min: floatPtr(40), Max: floatPtr(150), CriticalBand: 0.2},
		"systolic":   {Min: floatPtr(80), Max: floatPtr(180), CriticalBand: 0.15},
		"diastolic":  {Min: floatPtr(50), Max: floatPtr(110), CriticalBand: 0.15},
	}

	dispatcher := notifier.NewDispatcherWithChannels(
		[]notifier.Channel{channel}, attempts,
		3, time.Millisecond, 5*time.Millisecond, 100*time.Millisecond,
		func(stage models.StreamStage, summary map[string]interface{}) {
			feed.Publish(stage, summary)
		},
		logger,
	)
	dispatcher.Start(context.Background())
	t.Cleanup(func() { dispatcher.Stop(time.Second) })

	pipeline := NewPipeline(
		decoder.NewRegistry(decoder.NewESP32Decoder(), decoder.NewWatchDecoder(), decoder.NewCM4Decoder()),
		resolver.NewPatientResolver(patients, registry, client, time.Minute, logger),
		resolver.NewHospitalResolver(patients, registry, "hosp-default", logger),
		normalizer.NewNormalizer(resources, logger),
		alert.NewDetector(alerts, patients, client, thresholds, 5*time.Minute, logger),
		dispatcher,
		status,
		feed,
		logger,
	)

	return &pipelineFixture{
		pipeline:  pipeline,
		patients:  patients,
		resources: resources,
		alerts:    alerts,
		status:    status,
		channel:   channel,
		feed:      feed,
	}
}

func floatPtr(v float64) *float64 { return &v }

func stagesIn(events []models.StreamEvent) []models.StreamStage {
	var out []models.StreamStage
	for _, e := range events {
		out = append(out, e.Stage)
	}
	return out
}

// ============================================
// 端到端场景
// ============================================

func TestPipeline_SOSEndToEnd(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.patients.add(&repository.Patient{
		PatientID: "p-001", DeviceRef: "865067123456789", HospitalID: "hosp-A",
	})

	raw := models.RawMessage{
		Topic: "iMEDE_watch/sos",
		Payload: []byte(`{
			"IMEI": "865067123456789",
			"status": "SOS",
			"location": {"GPS": {"latitude": 13.75, "longitude": 100.50}}
		}`),
		ReceivedAt: time.Now(),
	}
	require.NoError(t, fx.pipeline.Process(context.Background(), raw))

	// SOS 不产生 Observation，但开启 CRITICAL 报警
	assert.Equal(t, 0, fx.resources.observationCount())
	require.Equal(t, 1, fx.alerts.count())
	for _, a := range fx.alerts.alerts {
		assert.Equal(t, models.AlertSOS, a.AlertType)
		assert.Equal(t, models.PriorityCritical, a.Priority)
		assert.Equal(t, models.AlertActive, a.Status)
		assert.Equal(t, "hosp-A", a.HospitalID)
		require.NotNil(t, a.Location)
		assert.Equal(t, 13.75, a.Location.Latitude)
	}

	// 通知异步扇出到渠道
	require.Eventually(t, func() bool {
		return fx.channel.sentCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 每个阶段各有一条可观测事件
	stages := stagesIn(fx.feed.History())
	assert.Contains(t, stages, models.StageDecode)
	assert.Contains(t, stages, models.StagePatientResolve)
	assert.Contains(t, stages, models.StageHospitalResolve)
	assert.Contains(t, stages, models.StageNormalize)
	assert.Contains(t, stages, models.StageAlert)
}

func TestPipeline_BloodPressureEndToEnd(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.patients.add(&repository.Patient{
		PatientID: "p-002", DeviceRef: "11:22:33:44:55:66", HospitalID: "hosp-A",
	})

	raw := models.RawMessage{
		Topic: "dusun_pub",
		Payload: []byte(`{
			"mac": "AA:BB:CC:DD:EE:FF",
			"type": "reportAttribute",
			"data": {"attribute": "BP_BIOLIGTH", "mac": "11:22:33:44:55:66", "bp_high": 137, "bp_low": 95, "PR": 74}
		}`),
		ReceivedAt: time.Now(),
	}
	require.NoError(t, fx.pipeline.Process(context.Background(), raw))

	// 界内血压：产生 Observation，不开启报警
	require.Equal(t, 1, fx.resources.observationCount())
	obs := fx.resources.observations[0]
	assert.Equal(t, "p-002", obs.PatientID)
	assert.Equal(t, "org-hosp-A", obs.OrganizationID)
	assert.Len(t, obs.Components, 3)
	assert.Equal(t, 0, fx.alerts.count())
	assert.Equal(t, 0, fx.channel.sentCount())
}

func TestPipeline_UnregisteredDeviceGetsPlaceholder(t *testing.T) {
	fx := newPipelineFixture(t)

	raw := models.RawMessage{
		Topic:      "iMEDE_watch/VitalSign",
		Payload:    []byte(`{"IMEI": "865067999999999", "heartRate": 75}`),
		ReceivedAt: time.Now(),
	}
	require.NoError(t, fx.pipeline.Process(context.Background(), raw))

	require.Equal(t, 1, fx.resources.observationCount())
	obs := fx.resources.observations[0]
	assert.Equal(t, "placeholder-865067999999999", obs.PatientID)
	// 医院链走到底：默认医院
	assert.Equal(t, "org-hosp-default", obs.OrganizationID)
}

func TestPipeline_DecodeErrorDropsMessage(t *testing.T) {
	fx := newPipelineFixture(t)

	raw := models.RawMessage{
		Topic:      "dusun_pub",
		Payload:    []byte(`{"mac": "AA:BB", "type": "reportAttribute", "data": {"attribute": "MYSTERY", "mac": "X"}}`),
		ReceivedAt: time.Now(),
	}
	// 解码失败不是错误：记录并丢弃，消费不中断
	require.NoError(t, fx.pipeline.Process(context.Background(), raw))
	assert.Equal(t, int64(1), fx.pipeline.DecodeErrorCount())
	assert.Contains(t, stagesIn(fx.feed.History()), models.StageDecodeError)
}

func TestPipeline_UnknownTopicDropsMessage(t *testing.T) {
	fx := newPipelineFixture(t)

	raw := models.RawMessage{Topic: "some/other/topic", Payload: []byte(`{}`), ReceivedAt: time.Now()}
	require.NoError(t, fx.pipeline.Process(context.Background(), raw))
	assert.Equal(t, int64(1), fx.pipeline.DecodeErrorCount())
}

func TestPipeline_HeartbeatWritesDeviceStatus(t *testing.T) {
	fx := newPipelineFixture(t)

	raw := models.RawMessage{
		Topic:      "iMEDE_watch/hb",
		Payload:    []byte(`{"IMEI": "865067123456789", "battery": 80}`),
		ReceivedAt: time.Now(),
	}
	require.NoError(t, fx.pipeline.Process(context.Background(), raw))

	require.Len(t, fx.status.events, 1)
	assert.Equal(t, "865067123456789", fx.status.events[0].DeviceRef)
	assert.True(t, fx.status.events[0].Online)
}

func TestPipeline_LocationOnlyUpdatesLastKnown(t *testing.T) {
	fx := newPipelineFixture(t)

	raw := models.RawMessage{
		Topic:      "iMEDE_watch/location",
		Payload:    []byte(`{"IMEI": "865067123456789", "location": {"GPS": {"latitude": 13.75, "longitude": 100.50}}}`),
		ReceivedAt: time.Now(),
	}
	require.NoError(t, fx.pipeline.Process(context.Background(), raw))

	// 纯位置读数只刷新最近已知位置，不触碰临床资源也不报警
	loc := fx.status.locations["865067123456789"]
	require.NotNil(t, loc)
	assert.Equal(t, 13.75, loc.Latitude)
	assert.Empty(t, fx.resources.orgs)
	assert.Equal(t, 0, fx.resources.observationCount())
	assert.Equal(t, 0, fx.alerts.count())
}

func TestPipeline_StorageFailureRetried(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.status.failures = 2

	raw := models.RawMessage{
		Topic:      "iMEDE_watch/hb",
		Payload:    []byte(`{"IMEI": "865067123456789"}`),
		ReceivedAt: time.Now(),
	}

	err := fx.pipeline.ProcessWithRetry(context.Background(), raw, 3, time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, fx.status.events, 1)
}

func TestPipeline_StorageRetriesExhausted(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.status.failures = 99

	raw := models.RawMessage{
		Topic:      "iMEDE_watch/hb",
		Payload:    []byte(`{"IMEI": "865067123456789"}`),
		ReceivedAt: time.Now(),
	}

	err := fx.pipeline.ProcessWithRetry(context.Background(), raw, 2, time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device status write")
}

func TestPipeline_RepeatedSOSDoesNotRedispatch(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.patients.add(&repository.Patient{
		PatientID: "p-001", DeviceRef: "865067123456789", HospitalID: "hosp-A",
	})

	raw := models.RawMessage{
		Topic:      "iMEDE_watch/sos",
		Payload:    []byte(`{"IMEI": "865067123456789", "status": "SOS"}`),
		ReceivedAt: time.Now(),
	}
	require.NoError(t, fx.pipeline.Process(context.Background(), raw))
	require.NoError(t, fx.pipeline.Process(context.Background(), raw))

	// 窗口内的重复 SOS 只刷新报警，不重复通知
	assert.Equal(t, 1, fx.alerts.count())
	require.Eventually(t, func() bool {
		return fx.channel.sentCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fx.channel.sentCount())
}
