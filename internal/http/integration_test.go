package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RyanZhang-64/bhakti-steps/internal/auth"
	"github.com/RyanZhang-64/bhakti-steps/internal/config"
	"github.com/RyanZhang-64/bhakti-steps/internal/db"
	"github.com/RyanZhang-64/bhakti-steps/internal/repository"
)

// The scenario behind these tests: an admin provisions a mentor and two
// mentees, one mentee joins the mentor's batch, and the mentor's visibility
// over that mentee's logs tracks the membership exactly.
func TestMentorVisibilityLifecycle(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	cfg := testConfig()
	store := repository.NewStore(pool)
	server := NewServer(cfg, store, nil)
	app := httptest.NewServer(server.Router())
	defer app.Close()

	adminToken := mustToken(t, cfg, uuid.NewString(), "admin")

	mentorID, _ := createUser(t, app.URL, adminToken, "mentor")
	menteeID, _ := createUser(t, app.URL, adminToken, "mentee")
	outsiderID, _ := createUser(t, app.URL, adminToken, "mentee")

	mentorToken := mustToken(t, cfg, mentorID, "mentor")
	menteeToken := mustToken(t, cfg, menteeID, "mentee")

	// Admin creates an already-active batch owned by the mentor.
	var batch struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	resp := doReq(t, http.MethodPost, app.URL+"/batch", adminToken, map[string]interface{}{
		"name":     "Morning Batch",
		"mentorId": mentorID,
	})
	decodeBody(t, resp, &batch)
	if resp.StatusCode != http.StatusCreated || batch.Status != "active" {
		t.Fatalf("expected active batch, got %d / %s", resp.StatusCode, batch.Status)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/batch/"+batch.ID+"/members", mentorToken, map[string]string{
		"menteeId": menteeID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 adding member, got %d", resp.StatusCode)
	}

	// A mentee holds at most one active membership per batch.
	resp = doReq(t, http.MethodPost, app.URL+"/batch/"+batch.ID+"/members", mentorToken, map[string]string{
		"menteeId": menteeID,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 adding member twice, got %d", resp.StatusCode)
	}

	// Mentee logs sadhana; the same (user, date) twice is a conflict.
	entry := map[string]interface{}{
		"date":         "2024-01-01",
		"japaRounds":   16,
		"mangalaArati": true,
	}
	resp = doReq(t, http.MethodPost, app.URL+"/sadhana", menteeToken, entry)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 creating sadhana log, got %d", resp.StatusCode)
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)

	resp = doReq(t, http.MethodPost, app.URL+"/sadhana", menteeToken, entry)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate date, got %d", resp.StatusCode)
	}

	// Mentor may read the mentee's logs, never write them.
	resp = doReq(t, http.MethodGet, app.URL+"/sadhana/"+menteeID, mentorToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for mentor read, got %d", resp.StatusCode)
	}
	var logs []struct {
		JapaRounds int32 `json:"japaRounds"`
	}
	decodeBody(t, resp, &logs)
	if len(logs) != 1 || logs[0].JapaRounds != 16 {
		t.Fatalf("unexpected logs for mentor read: %+v", logs)
	}

	resp = doReq(t, http.MethodPatch, app.URL+"/sadhana/"+created.ID, mentorToken, map[string]interface{}{
		"japaRounds": 0,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for mentor write, got %d", resp.StatusCode)
	}

	// No membership, no visibility; denial looks like absence.
	resp = doReq(t, http.MethodGet, app.URL+"/sadhana/"+outsiderID, mentorToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unlinked mentee, got %d", resp.StatusCode)
	}

	// Removing the membership revokes visibility on the next request.
	resp = doReq(t, http.MethodDelete, app.URL+"/batch/"+batch.ID+"/member/"+menteeID, mentorToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 removing member, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodGet, app.URL+"/sadhana/"+menteeID, mentorToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after membership removal, got %d", resp.StatusCode)
	}

	// The mentee keeps full access to its own rows throughout.
	resp = doReq(t, http.MethodGet, app.URL+"/sadhana/"+menteeID, menteeToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for self read, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodPatch, app.URL+"/sadhana/"+created.ID, menteeToken, map[string]interface{}{
		"readingMinutes": 30,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for self write, got %d", resp.StatusCode)
	}
}

func TestBatchApprovalFlow(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	cfg := testConfig()
	store := repository.NewStore(pool)
	server := NewServer(cfg, store, nil)
	app := httptest.NewServer(server.Router())
	defer app.Close()

	adminToken := mustToken(t, cfg, uuid.NewString(), "admin")
	mentorID, _ := createUser(t, app.URL, adminToken, "mentor")
	mentorToken := mustToken(t, cfg, mentorID, "mentor")

	var batch struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	resp := doReq(t, http.MethodPost, app.URL+"/batch", mentorToken, map[string]string{
		"name": "Evening Batch",
	})
	decodeBody(t, resp, &batch)
	if resp.StatusCode != http.StatusCreated || batch.Status != "pending_approval" {
		t.Fatalf("expected pending batch, got %d / %s", resp.StatusCode, batch.Status)
	}

	// The owning mentor cannot approve its own batch.
	resp = doReq(t, http.MethodPatch, app.URL+"/batch/"+batch.ID, mentorToken, map[string]string{
		"status": "active",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for mentor self-approval, got %d", resp.StatusCode)
	}

	resp = doReq(t, http.MethodPatch, app.URL+"/batch/"+batch.ID, adminToken, map[string]string{
		"status": "active",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for admin approval, got %d", resp.StatusCode)
	}

	// Once active, the owner may deactivate and reactivate.
	resp = doReq(t, http.MethodPatch, app.URL+"/batch/"+batch.ID, mentorToken, map[string]string{
		"status": "inactive",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for mentor deactivation, got %d", resp.StatusCode)
	}
}

func TestValidationBoundaries(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	cfg := testConfig()
	store := repository.NewStore(pool)
	server := NewServer(cfg, store, nil)
	app := httptest.NewServer(server.Router())
	defer app.Close()

	adminToken := mustToken(t, cfg, uuid.NewString(), "admin")
	menteeID, _ := createUser(t, app.URL, adminToken, "mentee")
	menteeToken := mustToken(t, cfg, menteeID, "mentee")

	resp := doReq(t, http.MethodPost, app.URL+"/service", menteeToken, map[string]interface{}{
		"departmentId":  uuid.NewString(),
		"date":          "2024-01-01",
		"durationHours": -1.0,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative duration, got %d", resp.StatusCode)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/me/devices", menteeToken, map[string]string{
		"token":    "",
		"platform": "android",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty device token, got %d", resp.StatusCode)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/me/devices", menteeToken, map[string]string{
		"token":    "fcm-" + uuid.NewString(),
		"platform": "windows",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown platform, got %d", resp.StatusCode)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/me/devices", menteeToken, map[string]string{
		"token":    "fcm-" + uuid.NewString(),
		"platform": "android",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 registering device, got %d", resp.StatusCode)
	}
}

// Refresh rotation revokes the spent session; logout revokes every session
// the user still holds.
func TestSessionLifecycle(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	cfg := testConfig()
	store := repository.NewStore(pool)
	server := NewServer(cfg, store, nil)
	app := httptest.NewServer(server.Router())
	defer app.Close()

	adminToken := mustToken(t, cfg, uuid.NewString(), "admin")
	_, email := createUser(t, app.URL, adminToken, "mentee")

	var first authResponse
	resp := doReq(t, http.MethodPost, app.URL+"/auth/login", "", map[string]string{
		"email":    email,
		"password": testPassword,
	})
	decodeBody(t, resp, &first)
	if resp.StatusCode != http.StatusOK || first.RefreshToken == "" {
		t.Fatalf("expected 200 with refresh token on login, got %d", resp.StatusCode)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/auth/login", "", map[string]string{
		"email":    email,
		"password": "not-the-password",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", resp.StatusCode)
	}

	var second authResponse
	resp = doReq(t, http.MethodPost, app.URL+"/auth/refresh", "", map[string]string{
		"refreshToken": first.RefreshToken,
	})
	decodeBody(t, resp, &second)
	if resp.StatusCode != http.StatusOK || second.RefreshToken == "" {
		t.Fatalf("expected 200 with rotated token on refresh, got %d", resp.StatusCode)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected refresh to rotate the token")
	}

	// The spent token is revoked, not merely superseded.
	resp = doReq(t, http.MethodPost, app.URL+"/auth/refresh", "", map[string]string{
		"refreshToken": first.RefreshToken,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 replaying spent refresh token, got %d", resp.StatusCode)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/auth/logout", second.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on logout, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodPost, app.URL+"/auth/refresh", "", map[string]string{
		"refreshToken": second.RefreshToken,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 refreshing after logout, got %d", resp.StatusCode)
	}
}

func TestUserAdministration(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	cfg := testConfig()
	store := repository.NewStore(pool)
	server := NewServer(cfg, store, nil)
	app := httptest.NewServer(server.Router())
	defer app.Close()

	adminToken := mustToken(t, cfg, uuid.NewString(), "admin")
	menteeID, email := createUser(t, app.URL, adminToken, "mentee")
	menteeToken := mustToken(t, cfg, menteeID, "mentee")

	// Email and role are login identity; a principal cannot move its own.
	resp := doReq(t, http.MethodPatch, app.URL+"/user/"+menteeID, menteeToken, map[string]string{
		"email": "else." + uuid.NewString() + "@example.local",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for self email change, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodPatch, app.URL+"/user/"+menteeID, menteeToken, map[string]string{
		"role": "mentor",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for self role change, got %d", resp.StatusCode)
	}

	var promoted struct {
		Role string `json:"role"`
	}
	resp = doReq(t, http.MethodPatch, app.URL+"/user/"+menteeID, adminToken, map[string]string{
		"role": "mentor",
	})
	decodeBody(t, resp, &promoted)
	if resp.StatusCode != http.StatusOK || promoted.Role != "mentor" {
		t.Fatalf("expected promotion to mentor, got %d / %s", resp.StatusCode, promoted.Role)
	}

	// Soft delete hides the account everywhere without dropping rows.
	resp = doReq(t, http.MethodDelete, app.URL+"/user/"+menteeID, adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 deleting user, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodGet, app.URL+"/user/"+menteeID, adminToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 reading deleted user, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodDelete, app.URL+"/user/"+menteeID, adminToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 deleting twice, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodPost, app.URL+"/auth/login", "", map[string]string{
		"email":    email,
		"password": testPassword,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 logging in as deleted user, got %d", resp.StatusCode)
	}
}

const testPassword = "dev-password"

func testConfig() config.Config {
	return config.Config{
		HTTPAddr:        ":0",
		JWTSecret:       "test-secret",
		JWTIssuer:       "test-issuer",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	}
}

func openTestDB(t *testing.T) *pgxpool.Pool {
	url := os.Getenv("BHAKTI_TEST_DB")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("BHAKTI_TEST_DB or DATABASE_URL not set")
		return nil
	}
	pool, err := db.NewPool(context.Background(), url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
		return nil
	}
	return pool
}

func mustToken(t *testing.T, cfg config.Config, userID, userType string) string {
	t.Helper()
	token, err := auth.NewAccessToken(cfg.JWTSecret, cfg.JWTIssuer, 10*time.Minute, auth.Claims{
		UserID:   userID,
		UserType: userType,
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	return token
}

func createUser(t *testing.T, baseURL, adminToken, role string) (string, string) {
	t.Helper()
	email := role + "." + uuid.NewString() + "@example.local"
	body := map[string]string{
		"email":     email,
		"password":  testPassword,
		"firstName": "Test",
		"lastName":  "User",
		"role":      role,
	}
	resp := doReq(t, http.MethodPost, baseURL+"/user", adminToken, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 creating %s, got %d", role, resp.StatusCode)
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)
	return created.ID, email
}

func doReq(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
}
