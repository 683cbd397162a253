//go:build !integration

package web_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bulc-license-server/internal/domain/model"
	red "bulc-license-server/internal/infra/redis"
	"bulc-license-server/internal/infra/web"
	"bulc-license-server/internal/usecase"
)

//
// -------------------- test helpers --------------------
//

type webFixture struct {
	store  *memStore
	router http.Handler
	auth   *web.AuthManager
}

func newFixture(t *testing.T, limiter *red.RateLimiter, limit int) *webFixture {
	t.Helper()
	store := newMemStore()
	licRepo := &memLicenseRepo{s: store}
	actRepo := &memActivationRepo{s: store}
	planRepo := &memPlanRepo{s: store}
	prodRepo := &memProductRepo{s: store}
	locks := newMemLockManager()
	tm := &memTxManager{}

	validationUC := usecase.NewValidationUseCase(licRepo, planRepo, prodRepo, locks,
		&fakeOfflineSigner{}, &fakeSessionSigner{enabled: true})
	licenseUC := usecase.NewLicenseUseCase(licRepo, actRepo, planRepo, locks, tm)
	planUC := usecase.NewPlanUseCase(planRepo)

	auth := web.NewAuthManager("test-secret-for-web-tests", time.Hour)
	logger := zerolog.Nop()
	srv := web.NewServer(validationUC, licenseUC, planUC, auth, limiter, limit, &logger)
	return &webFixture{store: store, router: srv.Router(), auth: auth}
}

func (f *webFixture) token(t *testing.T, ownerID, role string) string {
	t.Helper()
	tok, err := f.auth.Mint(ownerID, role)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tok
}

func (f *webFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeResp(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func (f *webFixture) seedProduct(id, code string) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.products[id] = &model.Product{ID: id, Code: code, Name: code, Active: true, CreatedAt: time.Now()}
}

func (f *webFixture) seedLicense(t *testing.T, id, ownerID, productID string, policy model.PolicySnapshot) *model.License {
	t.Helper()
	until := time.Now().Add(30 * 24 * time.Hour)
	lic, err := model.NewLicense(id, model.OwnerTypeUser, ownerID, productID, "",
		model.LicenseTypeSubscription, model.UsageCategoryCommercial, time.Now(), &until,
		policy, model.GenerateLicenseKey(), "")
	if err != nil {
		t.Fatalf("seed license: %v", err)
	}
	if err := lic.Activate(); err != nil {
		t.Fatalf("activate license: %v", err)
	}
	f.store.mu.Lock()
	f.store.licenses[lic.ID] = lic
	f.store.mu.Unlock()
	return lic
}

func defaultPolicy() model.PolicySnapshot {
	return model.PolicySnapshot{
		MaxActivations:        3,
		MaxConcurrentSessions: 2,
		SessionTTLMinutes:     30,
		GracePeriodDays:       7,
		AllowOfflineDays:      7,
		Entitlements:          []string{"core"},
	}
}

//
// -------------------- tests --------------------
//

func TestHealthAndAuth(t *testing.T) {
	f := newFixture(t, nil, 0)

	t.Run("health is public", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/health", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("health = %d, want 200", rec.Code)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/licenses/my", "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/licenses/my", "not-a-jwt", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("non-admin on admin surface", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/admin/plans/", f.token(t, "user-1", ""), nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("request id echoed", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/health", "", nil)
		if rec.Header().Get("X-Request-Id") == "" {
			t.Fatal("expected X-Request-Id header")
		}
	})
}

func TestValidateEndpoint(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.seedProduct("prod-1", "CAD_PRO")
	f.seedLicense(t, "lic-1", "user-1", "prod-1", defaultPolicy())
	tok := f.token(t, "user-1", "")

	t.Run("admits a new device", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/licenses/validate", tok, map[string]any{
			"productCode":       "CAD_PRO",
			"deviceFingerprint": "device-alpha-0001",
			"clientVersion":     "2.1.0",
			"clientOs":          "windows",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		body := decodeResp(t, rec)
		if body["result"] != "SUCCESS" {
			t.Fatalf("result = %v, want SUCCESS", body["result"])
		}
		lic, _ := body["license"].(map[string]any)
		if lic == nil {
			t.Fatal("expected license payload")
		}
		if lic["licenseId"] != "lic-1" {
			t.Errorf("licenseId = %v", lic["licenseId"])
		}
		if lic["offlineToken"] == "" || lic["offlineToken"] == nil {
			t.Error("expected offline token")
		}
		if lic["sessionToken"] == "" || lic["sessionToken"] == nil {
			t.Error("expected session token")
		}
	})

	t.Run("missing fingerprint is a bad request", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/licenses/validate", tok, map[string]any{
			"productCode": "CAD_PRO",
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("unknown product code maps to 404", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/licenses/validate", tok, map[string]any{
			"productCode":       "NOPE",
			"deviceFingerprint": "device-alpha-0001",
		})
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
		body := decodeResp(t, rec)
		if body["result"] != "FAILURE" {
			t.Fatalf("result = %v, want FAILURE", body["result"])
		}
	})
}

func TestSessionConflictResponse(t *testing.T) {
	f := newFixture(t, nil, 0)
	pol := defaultPolicy()
	pol.MaxConcurrentSessions = 1
	f.seedLicense(t, "lic-1", "user-1", "prod-1", pol)
	tok := f.token(t, "user-1", "")

	first := f.do(t, http.MethodPost, "/api/v1/licenses/validate", tok, map[string]any{
		"licenseId":         "lic-1",
		"deviceFingerprint": "device-alpha-0001",
		"deviceName":        "Workstation",
	})
	if first.Code != http.StatusOK {
		t.Fatalf("first validate = %d", first.Code)
	}

	rec := f.do(t, http.MethodPost, "/api/v1/licenses/validate", tok, map[string]any{
		"licenseId":         "lic-1",
		"deviceFingerprint": "device-beta-00002",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	body := decodeResp(t, rec)
	if body["result"] != "SESSION_LIMIT_EXCEEDED" {
		t.Fatalf("result = %v", body["result"])
	}
	conflict, _ := body["sessionConflict"].(map[string]any)
	if conflict == nil {
		t.Fatal("expected sessionConflict payload")
	}
	sessions, _ := conflict["activeSessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("activeSessions = %d, want 1", len(sessions))
	}
	sess := sessions[0].(map[string]any)
	masked, _ := sess["maskedFingerprint"].(string)
	if masked == "device-alpha-0001" || masked == "" {
		t.Errorf("fingerprint not masked: %q", masked)
	}

	t.Run("force validate evicts and admits", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/licenses/validate-force", tok, map[string]any{
			"licenseId":               "lic-1",
			"deviceFingerprint":       "device-beta-00002",
			"deactivateActivationIds": []string{sess["activationId"].(string)},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		body := decodeResp(t, rec)
		if body["result"] != "SUCCESS" {
			t.Fatalf("result = %v", body["result"])
		}
	})
}

func TestHeartbeatEndpoint(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.seedLicense(t, "lic-1", "user-1", "prod-1", defaultPolicy())
	tok := f.token(t, "user-1", "")

	t.Run("unknown device maps to 404", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/licenses/heartbeat", tok, map[string]any{
			"licenseId":         "lic-1",
			"deviceFingerprint": "device-never-seen1",
		})
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
		body := decodeResp(t, rec)
		errObj, _ := body["error"].(map[string]any)
		if errObj == nil || errObj["code"] != "ACTIVATION_NOT_FOUND" {
			t.Fatalf("error = %v", body["error"])
		}
	})

	t.Run("known device refreshes", func(t *testing.T) {
		first := f.do(t, http.MethodPost, "/api/v1/licenses/validate", tok, map[string]any{
			"licenseId":         "lic-1",
			"deviceFingerprint": "device-alpha-0001",
		})
		if first.Code != http.StatusOK {
			t.Fatalf("validate = %d", first.Code)
		}
		rec := f.do(t, http.MethodPost, "/api/v1/licenses/heartbeat", tok, map[string]any{
			"licenseId":         "lic-1",
			"deviceFingerprint": "device-alpha-0001",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("heartbeat = %d, body %s", rec.Code, rec.Body.String())
		}
	})
}

func TestDeactivateEndpoint(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.seedLicense(t, "lic-1", "user-1", "prod-1", defaultPolicy())
	tok := f.token(t, "user-1", "")

	f.do(t, http.MethodPost, "/api/v1/licenses/validate", tok, map[string]any{
		"licenseId":         "lic-1",
		"deviceFingerprint": "device-alpha-0001",
	})

	t.Run("releases the slot", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/licenses/deactivate", tok, map[string]any{
			"licenseId":         "lic-1",
			"deviceFingerprint": "device-alpha-0001",
		})
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
	})

	t.Run("repeat is idempotent", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/licenses/deactivate", tok, map[string]any{
			"licenseId":         "lic-1",
			"deviceFingerprint": "device-alpha-0001",
		})
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
	})

	t.Run("unknown device maps to 404", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/licenses/deactivate", tok, map[string]any{
			"licenseId":         "lic-1",
			"deviceFingerprint": "device-never-seen1",
		})
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("foreign license is denied", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/licenses/deactivate", f.token(t, "user-2", ""), map[string]any{
			"licenseId":         "lic-1",
			"deviceFingerprint": "device-alpha-0001",
		})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})
}

func TestOwnerLicenseQueries(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.seedLicense(t, "lic-1", "user-1", "prod-1", defaultPolicy())
	f.seedLicense(t, "lic-2", "user-1", "prod-2", defaultPolicy())
	f.seedLicense(t, "lic-3", "user-2", "prod-1", defaultPolicy())

	t.Run("lists only own licenses", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/licenses/my", f.token(t, "user-1", ""), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decodeResp(t, rec)
		data, _ := body["data"].([]any)
		if len(data) != 2 {
			t.Fatalf("len(data) = %d, want 2", len(data))
		}
	})

	t.Run("single license", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/licenses/my/lic-1", f.token(t, "user-1", ""), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decodeResp(t, rec)
		if body["id"] != "lic-1" {
			t.Errorf("id = %v", body["id"])
		}
		if body["licenseKey"] == "" || body["licenseKey"] == nil {
			t.Error("owner view should include the license key")
		}
	})

	t.Run("foreign license is denied", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/licenses/my/lic-3", f.token(t, "user-1", ""), nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})
}

func TestPlanAdminEndpoints(t *testing.T) {
	f := newFixture(t, nil, 0)
	admin := f.token(t, "admin-1", "admin")

	planBody := map[string]any{
		"productId":             "prod-1",
		"code":                  "PRO_ANNUAL",
		"name":                  "Pro Annual",
		"licenseType":           "SUBSCRIPTION",
		"durationDays":          365,
		"graceDays":             14,
		"maxActivations":        3,
		"maxConcurrentSessions": 2,
		"allowOfflineDays":      30,
		"entitlements":          []string{"core", "render"},
	}

	rec := f.do(t, http.MethodPost, "/api/v1/admin/plans/", admin, planBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeResp(t, rec)
	planID, _ := created["id"].(string)
	if planID == "" {
		t.Fatal("expected plan id")
	}

	t.Run("duplicate code conflicts", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/admin/plans/", admin, planBody)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("get and list", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/admin/plans/"+planID, admin, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("get = %d", rec.Code)
		}
		rec = f.do(t, http.MethodGet, "/api/v1/admin/plans/?active=true", admin, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("list = %d", rec.Code)
		}
		body := decodeResp(t, rec)
		data, _ := body["data"].([]any)
		if len(data) != 1 {
			t.Fatalf("len(data) = %d, want 1", len(data))
		}
	})

	t.Run("update", func(t *testing.T) {
		upd := map[string]any{}
		for k, v := range planBody {
			upd[k] = v
		}
		upd["name"] = "Pro Annual v2"
		upd["active"] = true
		rec := f.do(t, http.MethodPut, "/api/v1/admin/plans/"+planID, admin, upd)
		if rec.Code != http.StatusOK {
			t.Fatalf("update = %d, body %s", rec.Code, rec.Body.String())
		}
		body := decodeResp(t, rec)
		if body["name"] != "Pro Annual v2" {
			t.Errorf("name = %v", body["name"])
		}
	})

	t.Run("delete then 404", func(t *testing.T) {
		rec := f.do(t, http.MethodDelete, "/api/v1/admin/plans/"+planID, admin, nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("delete = %d", rec.Code)
		}
		rec = f.do(t, http.MethodGet, "/api/v1/admin/plans/"+planID, admin, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("get after delete = %d, want 404", rec.Code)
		}
	})
}

func TestLicenseAdminEndpoints(t *testing.T) {
	f := newFixture(t, nil, 0)
	admin := f.token(t, "admin-1", "admin")

	rec := f.do(t, http.MethodPost, "/api/v1/admin/plans/", admin, map[string]any{
		"productId":             "prod-1",
		"code":                  "PRO_ANNUAL",
		"name":                  "Pro Annual",
		"licenseType":           "SUBSCRIPTION",
		"durationDays":          365,
		"graceDays":             14,
		"maxActivations":        3,
		"maxConcurrentSessions": 2,
		"allowOfflineDays":      30,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("plan create = %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/admin/licenses/", admin, map[string]any{
		"ownerId":       "user-9",
		"planCode":      "PRO_ANNUAL",
		"sourceOrderId": "order-42",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue = %d, body %s", rec.Code, rec.Body.String())
	}
	issued := decodeResp(t, rec)
	licID, _ := issued["id"].(string)
	if licID == "" {
		t.Fatal("expected license id")
	}
	if issued["status"] != "ACTIVE" {
		t.Errorf("status = %v, want ACTIVE", issued["status"])
	}

	t.Run("suspend and renew", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/admin/licenses/"+licID+"/suspend", admin, map[string]any{
			"reason": "chargeback",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("suspend = %d, body %s", rec.Code, rec.Body.String())
		}
		if body := decodeResp(t, rec); body["status"] != "SUSPENDED" {
			t.Errorf("status = %v", body["status"])
		}

		rec = f.do(t, http.MethodPost, "/api/v1/admin/licenses/"+licID+"/renew", admin, map[string]any{
			"validUntil": time.Now().Add(400 * 24 * time.Hour).Format(time.RFC3339),
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("renew = %d, body %s", rec.Code, rec.Body.String())
		}
		if body := decodeResp(t, rec); body["status"] != "ACTIVE" {
			t.Errorf("status = %v", body["status"])
		}
	})

	t.Run("revoke is terminal", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/admin/licenses/"+licID+"/revoke", admin, map[string]any{
			"reason": "refund",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("revoke = %d", rec.Code)
		}
		rec = f.do(t, http.MethodPost, "/api/v1/admin/licenses/"+licID+"/suspend", admin, map[string]any{})
		if rec.Code != http.StatusConflict {
			t.Fatalf("suspend after revoke = %d, want 409", rec.Code)
		}
	})

	t.Run("unknown license is 404", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/admin/licenses/nope", admin, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestValidateRateLimit(t *testing.T) {
	limiter := red.NewRateLimiter(newFakeRedis())
	f := newFixture(t, limiter, 2)
	f.seedLicense(t, "lic-1", "user-1", "prod-1", defaultPolicy())
	tok := f.token(t, "user-1", "")

	body := map[string]any{
		"licenseId":         "lic-1",
		"deviceFingerprint": "device-alpha-0001",
	}
	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/api/v1/licenses/validate", tok, body)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
	rec := f.do(t, http.MethodPost, "/api/v1/licenses/validate", tok, body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}

	// A different device has its own window.
	rec = f.do(t, http.MethodPost, "/api/v1/licenses/validate", tok, map[string]any{
		"licenseId":         "lic-1",
		"deviceFingerprint": "device-beta-00002",
	})
	if rec.Code == http.StatusTooManyRequests {
		t.Fatalf("per-device window leaked across devices")
	}
}
