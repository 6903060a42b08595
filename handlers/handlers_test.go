package handlers_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/payroll_audit/config"
	"github.com/mmdatafocus/payroll_audit/detection"
	"github.com/mmdatafocus/payroll_audit/handlers"
	"github.com/mmdatafocus/payroll_audit/middlewares"
	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/testutil"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/mmdatafocus/payroll_audit/workflow"
)

var secret = []byte("handler-test-secret")

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return nil, workflow.ErrJobLocked
}

func newRouter(t *testing.T, locker workflow.JobLocker) (*gin.Engine, *workflow.Services) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	files, err := utils.NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := &workflow.Services{
		DB:         testutil.NewDB(t),
		Logger:     testutil.Logger(),
		Clock:      utils.NewFixedClock(testutil.Now),
		Settings:   &config.Settings{SystemActorId: testutil.SystemActor, ImportChunk: 50, PhoneRegion: "GH"},
		Cipher:     testutil.Cipher(t),
		Hasher:     testutil.Hasher(t),
		Files:      files,
		Locker:     locker,
		Thresholds: detection.DefaultThresholds(),
	}
	r := gin.New()
	r.Use(middlewares.AuthMiddleware(secret))
	handlers.New(svc).Register(r)
	return r, svc
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		token, err := utils.JwtGenerate(secret, 42, "auditor", time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPIRequiresBearerToken(t *testing.T) {
	r, _ := newRouter(t, workflow.NoopJobLocker{})

	if w := do(t, r, http.MethodGet, "/api/discrepancies", nil, false); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/discrepancies", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/discrepancies", nil, true); w.Code != http.StatusOK {
		t.Fatalf("valid token: status %d %s", w.Code, w.Body.String())
	}
}

func TestDiscrepancyReviewAndResolve(t *testing.T) {
	r, svc := newRouter(t, workflow.NoopJobLocker{})
	s := testutil.CreateStaff(t, svc.DB)
	d := testutil.CreateDiscrepancy(t, svc.DB, s.ID, models.DiscrepancyTypeGhostEmployee, models.SeverityCritical, models.DiscrepancyStatusOpen, testutil.Now.Add(-72*time.Hour))

	w := do(t, r, http.MethodGet, "/api/discrepancies?severity=critical", nil, true)
	var list struct {
		Total int64 `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || list.Total != 1 {
		t.Fatalf("list: %s", w.Body.String())
	}
	if w := do(t, r, http.MethodGet, "/api/discrepancies?severity=urgent", nil, true); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown severity: status %d", w.Code)
	}

	path := "/api/discrepancies/" + itoa(d.ID)
	if w := do(t, r, http.MethodPost, path+"/review", nil, true); w.Code != http.StatusOK {
		t.Fatalf("review: %d %s", w.Code, w.Body.String())
	}
	resolve := map[string]string{"resolution_type": "staff_removed", "outcome": "resolved", "notes": "left in 2023"}
	if w := do(t, r, http.MethodPost, path+"/resolve", resolve, true); w.Code != http.StatusOK {
		t.Fatalf("resolve: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, r, http.MethodPost, path+"/resolve", resolve, true); w.Code != http.StatusConflict {
		t.Fatalf("second resolve: %d %s", w.Code, w.Body.String())
	}

	var res models.DiscrepancyResolution
	if err := svc.DB.Where("discrepancy_id = ?", d.ID).Take(&res).Error; err != nil {
		t.Fatal(err)
	}
	if res.ResolvedBy != 42 {
		t.Fatalf("resolved by %d, want the token actor", res.ResolvedBy)
	}
}

func TestDiscrepancyNotFoundAndBadInput(t *testing.T) {
	r, svc := newRouter(t, workflow.NoopJobLocker{})
	s := testutil.CreateStaff(t, svc.DB)
	d := testutil.CreateDiscrepancy(t, svc.DB, s.ID, models.DiscrepancyTypeSalaryAnomaly, models.SeverityHigh, models.DiscrepancyStatusOpen, testutil.Now)

	if w := do(t, r, http.MethodPost, "/api/discrepancies/9999/dismiss", nil, true); w.Code != http.StatusNotFound {
		t.Fatalf("missing: %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/discrepancies/abc", nil, true); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", w.Code)
	}
	path := "/api/discrepancies/" + itoa(d.ID)
	if w := do(t, r, http.MethodPost, path+"/notes", map[string]string{}, true); w.Code != http.StatusBadRequest {
		t.Fatalf("empty note: %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, path+"/notes", map[string]interface{}{"content": "called the station"}, true); w.Code != http.StatusCreated {
		t.Fatalf("note: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, r, http.MethodPost, path+"/dismiss", map[string]string{"reason": "duplicate report"}, true); w.Code != http.StatusOK {
		t.Fatalf("dismiss: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, r, http.MethodPost, path+"/review", nil, true); w.Code != http.StatusConflict {
		t.Fatalf("review dismissed: %d", w.Code)
	}
}

func pushBody(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	return map[string]interface{}{
		"message":      map[string]string{"data": base64.StdEncoding.EncodeToString(data), "id": "m-1"},
		"subscription": "projects/p/subscriptions/redetect",
	}
}

func TestRedetectPush(t *testing.T) {
	r, svc := newRouter(t, workflow.NoopJobLocker{})

	req := httptest.NewRequest(http.MethodPost, "/pubsub/redetect", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("malformed envelope: %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/pubsub/redetect", pushBody(t, []byte(`{"action":"purge"}`)), false); w.Code != http.StatusNoContent {
		t.Fatalf("unknown action: %d", w.Code)
	}

	msg, _ := json.Marshal(config.AuditPubSubMessage{Action: config.AuditActionDetect, ImportId: 3, CorrelationId: "c-1"})
	if w := do(t, r, http.MethodPost, "/pubsub/redetect", pushBody(t, msg), false); w.Code != http.StatusNoContent {
		t.Fatalf("detect: %d %s", w.Code, w.Body.String())
	}
	var runs []models.JobRun
	svc.DB.Where("job_name = ?", workflow.DetectJobName).Find(&runs)
	if len(runs) != 1 || runs[0].Status != models.JobRunStatusCompleted || runs[0].CorrelationId != "c-1" {
		t.Fatalf("job runs %+v", runs)
	}
}

func TestRedetectPushAcksWhileLocked(t *testing.T) {
	r, svc := newRouter(t, busyLocker{})
	msg, _ := json.Marshal(config.AuditPubSubMessage{Action: config.AuditActionDetect})
	if w := do(t, r, http.MethodPost, "/pubsub/redetect", pushBody(t, msg), false); w.Code != http.StatusNoContent {
		t.Fatalf("locked: %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/api/jobs/detect", nil, true); w.Code != http.StatusConflict {
		t.Fatalf("manual run while locked: %d", w.Code)
	}
	var n int64
	svc.DB.Model(&models.JobRun{}).Count(&n)
	if n != 0 {
		t.Fatalf("%d job runs recorded while locked", n)
	}
}

func TestHeadcountEndpoints(t *testing.T) {
	r, svc := newRouter(t, workflow.NoopJobLocker{})
	session := testutil.CreateSession(t, svc.DB, "June count", models.HeadcountSessionStatusPlanned)
	a := testutil.CreateStaff(t, svc.DB)
	b := testutil.CreateStaff(t, svc.DB)
	path := "/api/headcount/sessions/" + itoa(session.ID)

	if w := do(t, r, http.MethodPost, path+"/start", nil, true); w.Code != http.StatusOK {
		t.Fatalf("start: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, r, http.MethodPost, path+"/start", nil, true); w.Code != http.StatusConflict {
		t.Fatalf("second start: %d", w.Code)
	}
	ghost := map[string]interface{}{"staff_ids": []int{a.ID}, "verification_status": "ghost"}
	if w := do(t, r, http.MethodPost, path+"/bulk-verify", ghost, true); w.Code != http.StatusBadRequest {
		t.Fatalf("bulk ghost: %d", w.Code)
	}
	present := map[string]interface{}{"staff_ids": []int{a.ID, b.ID}, "verification_status": "present"}
	w := do(t, r, http.MethodPost, path+"/bulk-verify", present, true)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"verified":2`) {
		t.Fatalf("bulk verify: %d %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodGet, path+"/stats", nil, true)
	var stats struct {
		Stats      models.VerificationStats `json:"stats"`
		Completion float64                  `json:"completion_percentage"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Stats.Present != 2 || stats.Completion != 100 {
		t.Fatalf("stats %+v", stats)
	}

	if w := do(t, r, http.MethodPost, path+"/cancel", map[string]string{"reason": "rescheduled"}, true); w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
}

func TestImportEndpoints(t *testing.T) {
	r, _ := newRouter(t, workflow.NoopJobLocker{})

	w := do(t, r, http.MethodGet, "/api/imports/columns/bank_details", nil, true)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "account_number") {
		t.Fatalf("columns: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, r, http.MethodGet, "/api/imports/columns/payslips", nil, true); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown type: %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/imports/77", nil, true); w.Code != http.StatusNotFound {
		t.Fatalf("missing import: %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/imports/77/errors/export?format=pdf", nil, true); w.Code != http.StatusNotFound {
		t.Fatalf("export of missing import: %d", w.Code)
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}
