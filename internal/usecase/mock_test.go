//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"bulc-license-server/internal/domain"
	"bulc-license-server/internal/domain/model"
	"bulc-license-server/internal/domain/ports/repository"
)

// -----------------------------
// In-memory license repository
// -----------------------------

type MockLicenseRepo struct {
	mu    sync.RWMutex
	store map[string]*model.License

	SaveFunc     func(ctx context.Context, tx repository.Tx, lic *model.License) error
	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.License, error)
}

func NewMockLicenseRepo() *MockLicenseRepo {
	return &MockLicenseRepo{store: make(map[string]*model.License)}
}

// put seeds a license bypassing SaveFunc hooks.
func (m *MockLicenseRepo) put(lic *model.License) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[lic.ID] = copyLicense(lic)
}

func copyLicense(lic *model.License) *model.License {
	cp := *lic
	cp.Activations = make([]*model.Activation, len(lic.Activations))
	for i, a := range lic.Activations {
		ac := *a
		cp.Activations[i] = &ac
	}
	return &cp
}

func (m *MockLicenseRepo) Save(ctx context.Context, tx repository.Tx, lic *model.License) error {
	if m.SaveFunc != nil {
		if err := m.SaveFunc(ctx, tx, lic); err != nil {
			return err
		}
	}
	m.put(lic)
	return nil
}

func (m *MockLicenseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.License, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	lic, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyLicense(lic), nil
}

func (m *MockLicenseRepo) FindByKey(ctx context.Context, tx repository.Tx, key string) (*model.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, lic := range m.store {
		if lic.LicenseKey == key {
			return copyLicense(lic), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockLicenseRepo) FindBySourceOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, lic := range m.store {
		if lic.SourceOrderID == orderID {
			return copyLicense(lic), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockLicenseRepo) FindByOwnerAndProduct(ctx context.Context, tx repository.Tx, ownerType model.OwnerType, ownerID, productID string) (*model.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, lic := range m.store {
		if lic.OwnerType == ownerType && lic.OwnerID == ownerID && lic.ProductID == productID {
			return copyLicense(lic), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockLicenseRepo) FindCandidates(ctx context.Context, tx repository.Tx, ownerType model.OwnerType, ownerID, productID string, statuses []model.LicenseStatus) ([]*model.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.License
	for _, lic := range m.store {
		if lic.OwnerType != ownerType || lic.OwnerID != ownerID {
			continue
		}
		if productID != "" && lic.ProductID != productID {
			continue
		}
		for _, s := range statuses {
			if lic.Status == s {
				out = append(out, copyLicense(lic))
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound
	}
	return out, nil
}

func (m *MockLicenseRepo) ListByOwner(ctx context.Context, tx repository.Tx, ownerType model.OwnerType, ownerID string) ([]*model.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.License
	for _, lic := range m.store {
		if lic.OwnerType == ownerType && lic.OwnerID == ownerID {
			out = append(out, copyLicense(lic))
		}
	}
	return out, nil
}

func (m *MockLicenseRepo) FindHardExpired(ctx context.Context, tx repository.Tx, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	var out []string
	for _, lic := range m.store {
		if lic.Status != model.LicenseStatusActive {
			continue
		}
		if lic.EffectiveStatus(now) == model.LicenseStatusExpiredHard {
			out = append(out, lic.ID)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockLicenseRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.LicenseStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[model.LicenseStatus]int)
	for _, lic := range m.store {
		out[lic.Status]++
	}
	return out, nil
}

// get reads back a stored license for assertions.
func (m *MockLicenseRepo) get(id string) *model.License {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lic, ok := m.store[id]
	if !ok {
		return nil
	}
	return copyLicense(lic)
}

// -----------------------------
// In-memory activation repository
// -----------------------------

type MockActivationRepo struct {
	licenses *MockLicenseRepo
}

func NewMockActivationRepo(licenses *MockLicenseRepo) *MockActivationRepo {
	return &MockActivationRepo{licenses: licenses}
}

func (m *MockActivationRepo) Save(ctx context.Context, tx repository.Tx, a *model.Activation) error {
	m.licenses.mu.Lock()
	defer m.licenses.mu.Unlock()
	lic, ok := m.licenses.store[a.LicenseID]
	if !ok {
		return domain.ErrNotFound
	}
	cp := *a
	for i, existing := range lic.Activations {
		if existing.ID == a.ID {
			lic.Activations[i] = &cp
			return nil
		}
	}
	lic.Activations = append(lic.Activations, &cp)
	return nil
}

func (m *MockActivationRepo) FindByLicenseAndFingerprint(ctx context.Context, tx repository.Tx, licenseID, fingerprint string) (*model.Activation, error) {
	m.licenses.mu.RLock()
	defer m.licenses.mu.RUnlock()
	lic, ok := m.licenses.store[licenseID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	for _, a := range lic.Activations {
		if a.DeviceFingerprint == fingerprint {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockActivationRepo) FindByIDs(ctx context.Context, tx repository.Tx, ids []string) ([]*model.Activation, error) {
	m.licenses.mu.RLock()
	defer m.licenses.mu.RUnlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*model.Activation
	for _, lic := range m.licenses.store {
		for _, a := range lic.Activations {
			if want[a.ID] {
				cp := *a
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (m *MockActivationRepo) MarkStale(ctx context.Context, tx repository.Tx, threshold time.Time) (int64, error) {
	m.licenses.mu.Lock()
	defer m.licenses.mu.Unlock()
	var n int64
	for _, lic := range m.licenses.store {
		for _, a := range lic.Activations {
			if a.Status == model.ActivationStatusActive && a.LastSeenAt.Before(threshold) {
				a.MarkStale()
				n++
			}
		}
	}
	return n, nil
}

func (m *MockActivationRepo) ExpireByLicense(ctx context.Context, tx repository.Tx, licenseID string) (int64, error) {
	m.licenses.mu.Lock()
	defer m.licenses.mu.Unlock()
	lic, ok := m.licenses.store[licenseID]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, a := range lic.Activations {
		if a.Status == model.ActivationStatusActive || a.Status == model.ActivationStatusStale {
			a.Expire()
			n++
		}
	}
	return n, nil
}

// -----------------------------
// In-memory plan repository
// -----------------------------

type MockPlanRepo struct {
	mu    sync.RWMutex
	store map[string]*model.LicensePlan
}

func NewMockPlanRepo() *MockPlanRepo {
	return &MockPlanRepo{store: make(map[string]*model.LicensePlan)}
}

func (m *MockPlanRepo) Save(ctx context.Context, tx repository.Tx, plan *model.LicensePlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *plan
	m.store[plan.ID] = &cp
	return nil
}

func (m *MockPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.LicensePlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockPlanRepo) FindAvailableByID(ctx context.Context, tx repository.Tx, id string) (*model.LicensePlan, error) {
	p, err := m.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsAvailable() {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (m *MockPlanRepo) FindAvailableByCode(ctx context.Context, tx repository.Tx, code string) (*model.LicensePlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.store {
		if p.Code == code && p.IsAvailable() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockPlanRepo) ExistsByCode(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.store {
		if p.Code == code && !p.Deleted {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockPlanRepo) List(ctx context.Context, tx repository.Tx, productID string, activeOnly bool) ([]*model.LicensePlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.LicensePlan
	for _, p := range m.store {
		if p.Deleted {
			continue
		}
		if productID != "" && p.ProductID != productID {
			continue
		}
		if activeOnly && !p.Active {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// -----------------------------
// In-memory product repository
// -----------------------------

type MockProductRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Product
}

func NewMockProductRepo() *MockProductRepo {
	return &MockProductRepo{store: make(map[string]*model.Product)}
}

func (m *MockProductRepo) add(p *model.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.store[p.ID] = &cp
}

func (m *MockProductRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockProductRepo) FindActiveByCode(ctx context.Context, tx repository.Tx, code string) (*model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.store {
		if p.Code == code && p.Active {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

// -----------------------------
// Lock manager: keyed mutex
// -----------------------------

// MockLockManager serializes callbacks per license id with a keyed mutex,
// matching the exclusivity contract of the Postgres advisory lock.
type MockLockManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMockLockManager() *MockLockManager {
	return &MockLockManager{locks: make(map[string]*sync.Mutex)}
}

func (m *MockLockManager) WithLicenseLock(ctx context.Context, licenseID string, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	l, ok := m.locks[licenseID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[licenseID] = l
	}
	m.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(ctx, repository.NoTX)
}

// -----------------------------
// Tx manager
// -----------------------------

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// -----------------------------
// Token signers
// -----------------------------

type fakeOfflineSigner struct {
	signErr error
	calls   int
}

func (f *fakeOfflineSigner) Sign(lic *model.License, a *model.Activation, now time.Time) (string, time.Time, error) {
	if f.signErr != nil {
		return "", time.Time{}, f.signErr
	}
	f.calls++
	exp := now.Add(time.Duration(lic.Policy.AllowOfflineDays) * 24 * time.Hour)
	return fmt.Sprintf("offline-%s-%s-%d", lic.ID, a.DeviceFingerprint, f.calls), exp, nil
}

type fakeSessionSigner struct {
	enabled bool
	signErr error
}

func (f *fakeSessionSigner) Enabled() bool { return f.enabled }

func (f *fakeSessionSigner) Sign(licenseID, productCode, fingerprint string, entitlements []string, now time.Time) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return fmt.Sprintf("session-%s-%s-%s", licenseID, productCode, fingerprint), nil
}
