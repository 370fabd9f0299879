package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swaggest/assertjson"

	"phonegate/internal/backfill"
	backfillmodels "phonegate/internal/backfill/models"
	"phonegate/internal/directory"
	"phonegate/internal/identity/cipher"
	"phonegate/internal/identity/fingerprint"
	"phonegate/internal/identity/service"
	"phonegate/internal/identity/store/customer"
	"phonegate/internal/identity/store/duplicate"
	"phonegate/internal/identity/store/migration"
	id "phonegate/pkg/domain"
	"phonegate/pkg/platform/tx"
)

var signingKey = []byte("handler-test-signing-key")

type fixture struct {
	router    chi.Router
	operators *directory.InMemoryStore
	tenant    id.TenantID
	operator  id.OperatorID
	channel   id.ChannelID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	customers := customer.NewInMemory()
	duplicates := duplicate.NewInMemory(customers)
	operators := directory.NewInMemory()
	engine, err := fingerprint.New([]byte("test-pepper"))
	require.NoError(t, err)
	ciph, err := cipher.New(bytes.Repeat([]byte("k"), 32))
	require.NoError(t, err)

	runner := backfill.NewRunner(
		customers, duplicates, migration.NewInMemory(),
		engine, ciph, tx.NopRunner{},
		backfill.WithLogger(logger),
	)
	svc := service.NewService(
		customers, duplicates, operators, engine, ciph, tx.NopRunner{},
		service.WithLogger(logger),
		service.WithMigrator(runner),
	)

	f := &fixture{
		operators: operators,
		tenant:    id.NewTenantID(),
		operator:  id.NewOperatorID(),
		channel:   id.NewChannelID(),
	}
	operators.Add(directory.Operator{ID: f.operator, TenantID: f.tenant, Active: true})

	f.router = chi.NewRouter()
	New(svc, signingKey, logger).Register(f.router)
	return f
}

func (f *fixture) token(t *testing.T, subject uuid.UUID, role id.Role, parent uuid.UUID) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  subject.String(),
		"role": string(role),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	if parent != uuid.Nil {
		claims["parent_id"] = parent.String()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	require.NoError(t, err)
	return signed
}

func (f *fixture) operatorToken(t *testing.T) string {
	return f.token(t, uuid.UUID(f.operator), id.RoleOperator, uuid.UUID(f.tenant))
}

func (f *fixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) registerBody() string {
	return `{"phone":"138-0013-8000","operator_id":"` + f.operator.String() +
		`","channel_id":"` + f.channel.String() + `"}`
}

func TestRegisterRequiresToken(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/customers", "", f.registerBody())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterCreatesCustomer(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/customers", f.operatorToken(t), f.registerBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	assertjson.Equal(t, []byte(`{"status":"success","customer_id":"<ignore-diff>"}`), rec.Body.Bytes())
}

func TestRegisterDuplicateReturnsFirstOwner(t *testing.T) {
	f := newFixture(t)
	first := f.do(t, http.MethodPost, "/api/customers", f.operatorToken(t), f.registerBody())
	require.Equal(t, http.StatusCreated, first.Code)

	body := `{"phone":"13800138000","operator_id":"` + f.operator.String() +
		`","channel_id":"` + f.channel.String() + `"}`
	second := f.do(t, http.MethodPost, "/api/customers", f.operatorToken(t), body)
	require.Equal(t, http.StatusOK, second.Code)
	assertjson.Equal(t, []byte(`{
		"status": "duplicate",
		"customer_id": "<ignore-diff>",
		"first_owner_operator_id": "`+f.operator.String()+`",
		"first_registered_at": "<ignore-diff>"
	}`), second.Body.Bytes())
}

func TestRegisterRejectsInvalidPhone(t *testing.T) {
	f := newFixture(t)
	body := `{"phone":"abc","operator_id":"` + f.operator.String() +
		`","channel_id":"` + f.channel.String() + `"}`
	rec := f.do(t, http.MethodPost, "/api/customers", f.operatorToken(t), body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assertjson.Equal(t, []byte(`{"error":"invalid_input","error_description":"<ignore-diff>"}`), rec.Body.Bytes())
}

func TestRegisterRejectsMalformedOperatorID(t *testing.T) {
	f := newFixture(t)
	body := `{"phone":"13800138000","operator_id":"nope","channel_id":"` + f.channel.String() + `"}`
	rec := f.do(t, http.MethodPost, "/api/customers", f.operatorToken(t), body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListCustomersNeverExposesSecrets(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated,
		f.do(t, http.MethodPost, "/api/customers", f.operatorToken(t), f.registerBody()).Code)

	rec := f.do(t, http.MethodGet, "/api/customers", f.operatorToken(t), "")
	require.Equal(t, http.StatusOK, rec.Code)
	payload := rec.Body.String()
	assert.NotContains(t, payload, "fingerprint")
	assert.NotContains(t, payload, "phone")
	assert.NotContains(t, payload, "signature")
	assertjson.Equal(t, []byte(`{"customers":[{
		"id": "<ignore-diff>",
		"tenant_id": "`+f.tenant.String()+`",
		"owner_operator_id": "`+f.operator.String()+`",
		"channel_id": "`+f.channel.String()+`",
		"created_at": "<ignore-diff>"
	}]}`), rec.Body.Bytes())
}

func TestListDuplicates(t *testing.T) {
	f := newFixture(t)
	token := f.operatorToken(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/customers", token, f.registerBody()).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/customers", token, f.registerBody()).Code)

	rec := f.do(t, http.MethodGet, "/api/duplicates", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assertjson.Equal(t, []byte(`{"duplicates":[{
		"id": "<ignore-diff>",
		"customer_id": "<ignore-diff>",
		"tenant_id": "`+f.tenant.String()+`",
		"first_owner_operator_id": "`+f.operator.String()+`",
		"duplicate_operator_id": "`+f.operator.String()+`",
		"duplicate_channel_id": "`+f.channel.String()+`",
		"occurred_at": "<ignore-diff>"
	}]}`), rec.Body.Bytes())
}

func TestRunMigrationForbiddenForOperators(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/admin/migrations/"+backfill.MigrationSignatures, f.operatorToken(t), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRunMigrationAsSuperAdmin(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, uuid.New(), id.RoleSuperAdmin, uuid.Nil)

	rec := f.do(t, http.MethodPost, "/api/admin/migrations/"+backfill.MigrationSignatures, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report backfillmodels.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, backfillmodels.StatusApplied, report.Status)

	again := f.do(t, http.MethodPost, "/api/admin/migrations/"+backfill.MigrationSignatures, token, "")
	require.Equal(t, http.StatusOK, again.Code)
	assertjson.Equal(t, []byte(`{"name":"`+backfill.MigrationSignatures+`","status":"already_applied","total":0,"updated":0,"skipped":0}`), again.Body.Bytes())
}

func TestUnknownMigrationIs404(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, uuid.New(), id.RoleSuperAdmin, uuid.Nil)
	rec := f.do(t, http.MethodPost, "/api/admin/migrations/bogus", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
