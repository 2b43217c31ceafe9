package resolver

import (
	"context"
	"sync"

	"medwatch-ingest/internal/repository"
)

// fakePatientStore 内存版患者仓库
type fakePatientStore struct {
	mu               sync.Mutex
	byID             map[string]*repository.Patient
	byDeviceRef      map[string]*repository.Patient
	placeholderCalls int
}

func newFakePatientStore() *fakePatientStore {
	return &fakePatientStore{
		byID:        make(map[string]*repository.Patient),
		byDeviceRef: make(map[string]*repository.Patient),
	}
}

func (f *fakePatientStore) add(p *repository.Patient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[p.PatientID] = p
	if p.DeviceRef != "" {
		f.byDeviceRef[p.DeviceRef] = p
	}
}

func (f *fakePatientStore) GetByID(_ context.Context, patientID string) (*repository.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.byID[patientID]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakePatientStore) FindByDeviceRef(_ context.Context, deviceRef string) (*repository.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.byDeviceRef[deviceRef]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakePatientStore) CreatePlaceholder(_ context.Context, deviceRef string) (*repository.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeholderCalls++
	if p, ok := f.byDeviceRef[deviceRef]; ok {
		return p, nil
	}
	p := &repository.Patient{
		PatientID:    "placeholder-" + deviceRef,
		Name:         "Unregistered " + deviceRef,
		DeviceRef:    deviceRef,
		Unregistered: true,
	}
	f.byID[p.PatientID] = p
	f.byDeviceRef[deviceRef] = p
	return p, nil
}

// fakeRegistryStore 内存版三类设备注册表
type fakeRegistryStore struct {
	byIdentifier   map[string]*repository.RegistryEntry
	facilityByMAC  map[string]*repository.FacilityDevice
	orgBoxByMAC    map[string]*repository.BoxEntry
}

func newFakeRegistryStore() *fakeRegistryStore {
	return &fakeRegistryStore{
		byIdentifier:  make(map[string]*repository.RegistryEntry),
		facilityByMAC: make(map[string]*repository.FacilityDevice),
		orgBoxByMAC:   make(map[string]*repository.BoxEntry),
	}
}

func (f *fakeRegistryStore) FindByIdentifier(_ context.Context, identifier string) (*repository.RegistryEntry, error) {
	if e, ok := f.byIdentifier[identifier]; ok {
		return e, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeRegistryStore) FindFacilityDeviceByGateway(_ context.Context, gatewayMAC string) (*repository.FacilityDevice, error) {
	if e, ok := f.facilityByMAC[gatewayMAC]; ok {
		return e, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeRegistryStore) FindBoxByGateway(_ context.Context, gatewayMAC string) (*repository.BoxEntry, error) {
	if e, ok := f.orgBoxByMAC[gatewayMAC]; ok {
		return e, nil
	}
	return nil, repository.ErrNotFound
}
