//go:build !integration

package web_test

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"bulc-license-server/internal/domain"
	"bulc-license-server/internal/domain/model"
	"bulc-license-server/internal/domain/ports/repository"
)

//
// ---------------- in-memory infra mocks (repos/tx) ----------------
//

// memStore backs every repository port used by the HTTP layer.
type memStore struct {
	mu       sync.RWMutex
	licenses map[string]*model.License
	plans    map[string]*model.LicensePlan
	products map[string]*model.Product
}

func newMemStore() *memStore {
	return &memStore{
		licenses: map[string]*model.License{},
		plans:    map[string]*model.LicensePlan{},
		products: map[string]*model.Product{},
	}
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

type memLicenseRepo struct{ s *memStore }

func (m *memLicenseRepo) Save(ctx context.Context, tx repository.Tx, lic *model.License) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.licenses[lic.ID] = copyLicense(lic)
	return nil
}

func (m *memLicenseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.License, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	lic, ok := m.s.licenses[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyLicense(lic), nil
}

func (m *memLicenseRepo) FindByKey(ctx context.Context, tx repository.Tx, key string) (*model.License, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, lic := range m.s.licenses {
		if lic.LicenseKey == key {
			return copyLicense(lic), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memLicenseRepo) FindBySourceOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.License, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, lic := range m.s.licenses {
		if lic.SourceOrderID == orderID {
			return copyLicense(lic), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memLicenseRepo) FindByOwnerAndProduct(ctx context.Context, tx repository.Tx, ownerType model.OwnerType, ownerID, productID string) (*model.License, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, lic := range m.s.licenses {
		if lic.OwnerType == ownerType && lic.OwnerID == ownerID && lic.ProductID == productID {
			return copyLicense(lic), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memLicenseRepo) FindCandidates(ctx context.Context, tx repository.Tx, ownerType model.OwnerType, ownerID, productID string, statuses []model.LicenseStatus) ([]*model.License, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []*model.License
	for _, lic := range m.s.licenses {
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

func (m *memLicenseRepo) ListByOwner(ctx context.Context, tx repository.Tx, ownerType model.OwnerType, ownerID string) ([]*model.License, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []*model.License
	for _, lic := range m.s.licenses {
		if lic.OwnerType == ownerType && lic.OwnerID == ownerID {
			out = append(out, copyLicense(lic))
		}
	}
	return out, nil
}

func (m *memLicenseRepo) FindHardExpired(ctx context.Context, tx repository.Tx, limit int) ([]string, error) {
	return nil, nil
}

func (m *memLicenseRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.LicenseStatus]int, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	out := map[model.LicenseStatus]int{}
	for _, lic := range m.s.licenses {
		out[lic.Status]++
	}
	return out, nil
}

type memActivationRepo struct{ s *memStore }

func (m *memActivationRepo) Save(ctx context.Context, tx repository.Tx, a *model.Activation) error {
	return nil
}

func (m *memActivationRepo) FindByLicenseAndFingerprint(ctx context.Context, tx repository.Tx, licenseID, fp string) (*model.Activation, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	lic, ok := m.s.licenses[licenseID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	for _, a := range lic.Activations {
		if a.DeviceFingerprint == fp {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memActivationRepo) FindByIDs(ctx context.Context, tx repository.Tx, ids []string) ([]*model.Activation, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []*model.Activation
	for _, lic := range m.s.licenses {
		for _, a := range lic.Activations {
			if want[a.ID] {
				cp := *a
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (m *memActivationRepo) MarkStale(ctx context.Context, tx repository.Tx, threshold time.Time) (int64, error) {
	return 0, nil
}

func (m *memActivationRepo) ExpireByLicense(ctx context.Context, tx repository.Tx, licenseID string) (int64, error) {
	return 0, nil
}

type memPlanRepo struct{ s *memStore }

func (m *memPlanRepo) Save(ctx context.Context, tx repository.Tx, p *model.LicensePlan) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *p
	m.s.plans[p.ID] = &cp
	return nil
}

func (m *memPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.LicensePlan, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	p, ok := m.s.plans[id]
	if !ok || p.Deleted {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPlanRepo) FindAvailableByID(ctx context.Context, tx repository.Tx, id string) (*model.LicensePlan, error) {
	p, err := m.FindByID(ctx, tx, id)
	if err != nil || !p.Active {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (m *memPlanRepo) FindAvailableByCode(ctx context.Context, tx repository.Tx, code string) (*model.LicensePlan, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, p := range m.s.plans {
		if p.Code == code && p.Active && !p.Deleted {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPlanRepo) ExistsByCode(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, p := range m.s.plans {
		if p.Code == code && !p.Deleted {
			return true, nil
		}
	}
	return false, nil
}

func (m *memPlanRepo) List(ctx context.Context, tx repository.Tx, productID string, activeOnly bool) ([]*model.LicensePlan, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []*model.LicensePlan
	for _, p := range m.s.plans {
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

type memProductRepo struct{ s *memStore }

func (m *memProductRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Product, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	p, ok := m.s.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProductRepo) FindActiveByCode(ctx context.Context, tx repository.Tx, code string) (*model.Product, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, p := range m.s.products {
		if p.Code == code && p.Active {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

type memLockManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLockManager() *memLockManager {
	return &memLockManager{locks: map[string]*sync.Mutex{}}
}

func (m *memLockManager) WithLicenseLock(ctx context.Context, licenseID string, fn func(ctx context.Context, tx repository.Tx) error) error {
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

type memTxManager struct{}

func (m *memTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, repository.NoTX)
}

// fakeRedis implements the redis client surface the rate limiter needs.
type fakeRedis struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeRedis() *fakeRedis { return &fakeRedis{counts: map[string]int64{}} }

func (f *fakeRedis) Ping(ctx context.Context) error { return nil }

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) error {
	return nil
}

func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) { return "", nil }

func (f *fakeRedis) Incr(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeRedis) Expire(ctx context.Context, key string, _ time.Duration) error { return nil }

func (f *fakeRedis) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.counts, k)
	}
	return nil
}

func (f *fakeRedis) Close() error { return nil }

// fakeOfflineSigner issues a recognizable opaque token.
type fakeOfflineSigner struct{}

func (f *fakeOfflineSigner) Sign(lic *model.License, act *model.Activation, now time.Time) (string, time.Time, error) {
	exp := now.Add(time.Duration(lic.Policy.AllowOfflineDays) * 24 * time.Hour)
	return "offline-" + lic.ID + "-" + act.DeviceFingerprint, exp, nil
}

type fakeSessionSigner struct{ enabled bool }

func (f *fakeSessionSigner) Enabled() bool { return f.enabled }

func (f *fakeSessionSigner) Sign(licenseID, productCode, fp string, ent []string, now time.Time) (string, error) {
	return "session-" + licenseID + "-" + productCode + "-" + fp, nil
}
