package resolver

import (
	"context"
	"testing"

	"medwatch-ingest/internal/models"
	"medwatch-ingest/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const defaultHospital = "hosp-default"

func TestHospitalResolver_PatientRecordWins(t *testing.T) {
	patients := newFakePatientStore()
	registry := newFakeRegistryStore()
	patients.add(&repository.Patient{PatientID: "p-001", HospitalID: "hosp-A"})
	registry.byIdentifier["dev-1"] = &repository.RegistryEntry{HospitalID: "hosp-B"}

	r := NewHospitalResolver(patients, registry, defaultHospital, zap.NewNop())

	link := models.PatientLink{DeviceRef: "dev-1", PatientID: "p-001"}
	hctx, err := r.Resolve(context.Background(), models.FamilyESP32, link, "")
	require.NoError(t, err)
	assert.Equal(t, "hosp-A", hctx.HospitalID)
	assert.Equal(t, models.SourcePatientField, hctx.Source)
}

func TestHospitalResolver_RegistryFallback(t *testing.T) {
	patients := newFakePatientStore()
	registry := newFakeRegistryStore()
	// 患者记录存在但医院字段为空，回退到注册表
	patients.add(&repository.Patient{PatientID: "p-001"})
	registry.byIdentifier["dev-1"] = &repository.RegistryEntry{HospitalID: "hosp-B"}

	r := NewHospitalResolver(patients, registry, defaultHospital, zap.NewNop())

	link := models.PatientLink{DeviceRef: "dev-1", PatientID: "p-001"}
	hctx, err := r.Resolve(context.Background(), models.FamilyWatch, link, "")
	require.NoError(t, err)
	assert.Equal(t, "hosp-B", hctx.HospitalID)
	assert.Equal(t, models.SourceRegistryLookup, hctx.Source)
}

func TestHospitalResolver_EnhancedChain(t *testing.T) {
	patients := newFakePatientStore()
	registry := newFakeRegistryStore()
	registry.facilityByMAC["CM4:GW:01"] = &repository.FacilityDevice{HospitalID: "hosp-facility"}
	registry.orgBoxByMAC["CM4:GW:02"] = &repository.BoxEntry{HospitalID: "hosp-box"}

	r := NewHospitalResolver(patients, registry, defaultHospital, zap.NewNop())
	link := models.PatientLink{DeviceRef: "SUB:AA", PatientID: "p-missing"}

	hctx, err := r.Resolve(context.Background(), models.FamilyCM4, link, "CM4:GW:01")
	require.NoError(t, err)
	assert.Equal(t, "hosp-facility", hctx.HospitalID)

	hctx, err = r.Resolve(context.Background(), models.FamilyCM4, link, "CM4:GW:02")
	require.NoError(t, err)
	assert.Equal(t, "hosp-box", hctx.HospitalID)
	assert.Equal(t, models.SourceOrgLevelLookup, hctx.Source)
}

func TestHospitalResolver_NeverEmpty(t *testing.T) {
	patients := newFakePatientStore()
	registry := newFakeRegistryStore()

	r := NewHospitalResolver(patients, registry, defaultHospital, zap.NewNop())

	// 全链未命中解析为默认医院，这是定义行为
	link := models.PatientLink{DeviceRef: "unknown", PatientID: "p-unknown"}
	hctx, err := r.Resolve(context.Background(), models.FamilyESP32, link, "")
	require.NoError(t, err)
	assert.Equal(t, defaultHospital, hctx.HospitalID)
	assert.Equal(t, models.SourceDefaultFacility, hctx.Source)
}
