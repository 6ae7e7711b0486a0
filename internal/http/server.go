package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/RyanZhang-64/bhakti-steps/internal/auth"
	"github.com/RyanZhang-64/bhakti-steps/internal/config"
	"github.com/RyanZhang-64/bhakti-steps/internal/crypto"
	"github.com/RyanZhang-64/bhakti-steps/internal/model"
	"github.com/RyanZhang-64/bhakti-steps/internal/policy"
	"github.com/RyanZhang-64/bhakti-steps/internal/repository"
)

type Server struct {
	cfg    config.Config
	store  *repository.Store
	engine *policy.Engine
	redis  *redis.Client
}

func NewServer(cfg config.Config, store *repository.Store, redisClient *redis.Client) *Server {
	return &Server{
		cfg:    cfg,
		store:  store,
		engine: policy.NewEngine(store),
		redis:  redisClient,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)
	r.With(s.authMiddleware).Post("/auth/logout", s.handleLogout)
	r.With(s.authMiddleware).Get("/auth/me", s.handleGetMe)

	r.With(s.authMiddleware, s.requireAdmin).Post("/user", s.handleCreateUser)
	r.With(s.authMiddleware).Get("/user/{userId}", s.handleGetUser)
	r.With(s.authMiddleware).Patch("/user/{userId}", s.handlePatchUser)
	r.With(s.authMiddleware, s.requireAdmin).Delete("/user/{userId}", s.handleDeleteUser)

	r.With(s.authMiddleware).Post("/batch", s.handleCreateBatch)
	r.With(s.authMiddleware).Get("/batches", s.handleListBatches)
	r.With(s.authMiddleware).Get("/batch/{batchId}", s.handleGetBatch)
	r.With(s.authMiddleware).Patch("/batch/{batchId}", s.handlePatchBatch)
	r.With(s.authMiddleware, s.requireAdmin).Delete("/batch/{batchId}", s.handleDeleteBatch)

	r.With(s.authMiddleware).Get("/batch/{batchId}/members", s.handleListMembers)
	r.With(s.authMiddleware).Post("/batch/{batchId}/members", s.handleAddMember)
	r.With(s.authMiddleware).Delete("/batch/{batchId}/member/{menteeId}", s.handleRemoveMember)

	r.With(s.authMiddleware).Post("/sadhana", s.handleCreateSadhana)
	r.With(s.authMiddleware).Get("/sadhana/{userId}", s.handleListSadhana)
	r.With(s.authMiddleware).Patch("/sadhana/{logId}", s.handlePatchSadhana)
	r.With(s.authMiddleware).Delete("/sadhana/{logId}", s.handleDeleteSadhana)

	r.With(s.authMiddleware).Post("/service", s.handleCreateService)
	r.With(s.authMiddleware).Get("/service/{userId}", s.handleListService)

	r.With(s.authMiddleware).Post("/me/devices", s.handleRegisterDevice)
	r.With(s.authMiddleware).Get("/me/devices", s.handleListDevices)
	r.With(s.authMiddleware).Delete("/me/devices/{tokenId}", s.handleDeleteDevice)

	r.With(s.authMiddleware).Get("/spiritualMasters", s.handleListSpiritualMasters)
	r.With(s.authMiddleware).Get("/departments", s.handleListDepartments)
	r.With(s.authMiddleware).Get("/courseCategories", s.handleListCourseCategories)

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func principalFromContext(ctx context.Context) policy.Principal {
	claims := claimsFromContext(ctx)
	if claims == nil {
		return policy.Principal{}
	}
	return policy.Principal{ID: claims.UserID, Role: policy.ParseRole(claims.UserType)}
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil || claims.UserType != "admin" {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// canRead evaluates the policy for a read; denial is reported to the caller
// as absence, never as a reason.
func (s *Server) canRead(r *http.Request, res policy.Resource) (bool, error) {
	decision, err := s.engine.Authorize(r.Context(), principalFromContext(r.Context()), policy.ActionRead, res)
	if err != nil {
		return false, err
	}
	return decision == policy.Allow, nil
}

func (s *Server) canWrite(r *http.Request, res policy.Resource) (bool, error) {
	decision, err := s.engine.Authorize(r.Context(), principalFromContext(r.Context()), policy.ActionWrite, res)
	if err != nil {
		return false, err
	}
	return decision == policy.Allow, nil
}

// Login / sessions

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         userSummary `json:"user"`
}

type userSummary struct {
	ID                string  `json:"id"`
	Email             string  `json:"email"`
	FirstName         string  `json:"firstName"`
	LastName          string  `json:"lastName"`
	Role              string  `json:"role"`
	SpiritualMasterID *string `json:"spiritualMasterId,omitempty"`
	CreatedOn         int64   `json:"createdOn"`
}

func mapUserSummary(user model.User, role string) userSummary {
	return userSummary{
		ID:                user.ID,
		Email:             user.Email,
		FirstName:         user.FirstName,
		LastName:          user.LastName,
		Role:              role,
		SpiritualMasterID: user.SpiritualMasterID,
		CreatedOn:         user.CreatedAt.Unix(),
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	if err := crypto.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	role, err := s.store.GetRole(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "role_not_found")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(r.Context(), user, role, r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         mapUserSummary(user, role.UserType),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token")
		return
	}

	tokenHash := crypto.HashToken(req.RefreshToken)
	session, err := s.store.GetRefreshSession(r.Context(), tokenHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	if session.RevokedAt != nil || session.ExpiresAt.Before(time.Now().UTC()) {
		writeError(w, http.StatusUnauthorized, "refresh_token_expired")
		return
	}

	user, err := s.store.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "user_not_found")
		return
	}

	role, err := s.store.GetRole(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "role_not_found")
		return
	}

	if err := s.store.RevokeRefreshSession(r.Context(), session.ID, time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(r.Context(), user, role, r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         mapUserSummary(user, role.UserType),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	_ = s.store.RevokeRefreshSessionsByUser(r.Context(), claims.UserID, time.Now().UTC())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	user, err := s.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	role, err := s.store.GetRole(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "role_not_found")
		return
	}

	writeJSON(w, http.StatusOK, mapUserSummary(user, role.UserType))
}

func (s *Server) issueTokens(ctx context.Context, user model.User, role model.Role, userAgent, ip string) (string, string, error) {
	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID:   user.ID,
		UserType: role.UserType,
	})
	if err != nil {
		return "", "", err
	}

	refreshToken, err := crypto.NewRefreshToken()
	if err != nil {
		return "", "", err
	}

	now := time.Now().UTC()
	session := model.RefreshSession{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: crypto.HashToken(refreshToken),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}
	if userAgent != "" {
		session.UserAgent = &userAgent
	}
	if ip != "" {
		session.IPAddress = &ip
	}

	if err := s.store.CreateRefreshSession(ctx, session); err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

// Users

type createUserRequest struct {
	Email             string  `json:"email"`
	Password          string  `json:"password"`
	FirstName         string  `json:"firstName"`
	LastName          string  `json:"lastName"`
	Role              string  `json:"role"`
	SpiritualMasterID *string `json:"spiritualMasterId,omitempty"`
}

// handleCreateUser is the only way accounts come into existence: admission is
// invite-only, so registration stays closed and every account gets exactly
// one role at creation.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Role = strings.TrimSpace(strings.ToLower(req.Role))
	if req.Email == "" || req.Password == "" || req.FirstName == "" || req.LastName == "" || req.Role == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if !isValidRole(req.Role) {
		writeError(w, http.StatusBadRequest, "invalid_role")
		return
	}
	if req.SpiritualMasterID != nil && !s.store.SpiritualMasterExists(r.Context(), *req.SpiritualMasterID) {
		writeError(w, http.StatusBadRequest, "unknown_spiritual_master")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "password_hash_failed")
		return
	}

	now := time.Now().UTC()
	user := model.User{
		ID:                uuid.NewString(),
		Email:             req.Email,
		PasswordHash:      hash,
		FirstName:         req.FirstName,
		LastName:          req.LastName,
		SpiritualMasterID: req.SpiritualMasterID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.CreateUserWithRole(r.Context(), user, req.Role); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			writeError(w, http.StatusConflict, "email_taken")
			return
		}
		writeError(w, http.StatusBadRequest, "user_create_failed")
		return
	}

	writeJSON(w, http.StatusCreated, mapUserSummary(user, req.Role))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}

	allowed, err := s.canRead(r, policy.Resource{Kind: "user", OwnerID: userID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !allowed {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}

	user, err := s.store.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	role, err := s.store.GetRole(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "role_not_found")
		return
	}

	writeJSON(w, http.StatusOK, mapUserSummary(user, role.UserType))
}

type patchUserRequest struct {
	Email             *string `json:"email,omitempty"`
	Password          *string `json:"password,omitempty"`
	FirstName         *string `json:"firstName,omitempty"`
	LastName          *string `json:"lastName,omitempty"`
	SpiritualMasterID *string `json:"spiritualMasterId,omitempty"`
	Role              *string `json:"role,omitempty"`
}

func (s *Server) handlePatchUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}

	allowed, err := s.canWrite(r, policy.Resource{Kind: "user", OwnerID: userID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req patchUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	isAdmin := claims != nil && claims.UserType == "admin"
	update := repository.UserUpdate{}
	if req.Email != nil {
		// Email is the login identity; like role, only an admin may move it.
		if !isAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		email := strings.TrimSpace(strings.ToLower(*req.Email))
		if email != "" {
			update.Email = &email
		}
	}
	if req.FirstName != nil {
		first := strings.TrimSpace(*req.FirstName)
		if first != "" {
			update.FirstName = &first
		}
	}
	if req.LastName != nil {
		last := strings.TrimSpace(*req.LastName)
		if last != "" {
			update.LastName = &last
		}
	}
	if req.SpiritualMasterID != nil {
		if !s.store.SpiritualMasterExists(r.Context(), *req.SpiritualMasterID) {
			writeError(w, http.StatusBadRequest, "unknown_spiritual_master")
			return
		}
		update.SpiritualMasterID = req.SpiritualMasterID
	}
	if req.Password != nil && strings.TrimSpace(*req.Password) != "" {
		hash, err := crypto.HashPassword(*req.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "password_hash_failed")
			return
		}
		update.PasswordHash = &hash
	}

	if req.Role != nil {
		// Role is immutable for everyone but an admin.
		if !isAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		newRole := strings.TrimSpace(strings.ToLower(*req.Role))
		if !isValidRole(newRole) {
			writeError(w, http.StatusBadRequest, "invalid_role")
			return
		}
		if err := s.store.ChangeRole(r.Context(), userID, newRole); err != nil {
			writeError(w, http.StatusInternalServerError, "update_failed")
			return
		}
	}

	user, err := s.store.UpdateUser(r.Context(), userID, update)
	if err != nil {
		writeError(w, http.StatusBadRequest, "update_failed")
		return
	}
	role, err := s.store.GetRole(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "role_not_found")
		return
	}

	writeJSON(w, http.StatusOK, mapUserSummary(user, role.UserType))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}

	deleted, err := s.store.SoftDeleteUser(r.Context(), userID, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Batches

type batchResponse struct {
	ID        string `json:"id"`
	MentorID  string `json:"mentorId"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedOn int64  `json:"createdOn"`
}

func mapBatch(batch model.Batch) batchResponse {
	return batchResponse{
		ID:        batch.ID,
		MentorID:  batch.MentorID,
		Name:      batch.Name,
		Status:    batch.Status,
		CreatedOn: batch.CreatedAt.Unix(),
	}
}

type createBatchRequest struct {
	Name     string  `json:"name"`
	MentorID *string `json:"mentorId,omitempty"`
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if claims.UserType != "mentor" && claims.UserType != "admin" {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req createBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "missing_name")
		return
	}

	mentorID := claims.UserID
	status := model.BatchStatusPendingApproval
	if claims.UserType == "admin" {
		// Admin-created batches skip approval but need an explicit owner.
		if req.MentorID == nil || strings.TrimSpace(*req.MentorID) == "" {
			writeError(w, http.StatusBadRequest, "missing_mentor_id")
			return
		}
		mentorID = strings.TrimSpace(*req.MentorID)
		status = model.BatchStatusActive
	}

	now := time.Now().UTC()
	batch := model.Batch{
		ID:        uuid.NewString(),
		MentorID:  mentorID,
		Name:      strings.TrimSpace(req.Name),
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateBatch(r.Context(), batch); err != nil {
		writeError(w, http.StatusBadRequest, "batch_create_failed")
		return
	}

	writeJSON(w, http.StatusCreated, mapBatch(batch))
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	limit := parseLimit(r)

	var batches []model.Batch
	var err error
	switch claims.UserType {
	case "admin":
		batches, err = s.store.ListBatches(r.Context(), limit)
	case "mentor":
		batches, err = s.store.ListBatchesByMentor(r.Context(), claims.UserID, limit)
	case "mentee":
		batches, err = s.store.ListBatchesByMentee(r.Context(), claims.UserID, limit)
	default:
		// Roleless principals see nothing, not an error.
		batches = nil
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := make([]batchResponse, 0, len(batches))
	for _, batch := range batches {
		resp = append(resp, mapBatch(batch))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchId")
	if batchID == "" {
		writeError(w, http.StatusBadRequest, "missing_batch_id")
		return
	}

	batch, err := s.store.GetBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, http.StatusNotFound, "batch_not_found")
		return
	}

	allowed, err := s.canRead(r, policy.Resource{Kind: "batch", OwnerID: batch.MentorID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !allowed {
		// A mentee may read a batch it actively belongs to.
		claims := claimsFromContext(r.Context())
		if claims == nil || !s.menteeInBatch(r.Context(), batchID, claims.UserID) {
			writeError(w, http.StatusNotFound, "batch_not_found")
			return
		}
	}

	writeJSON(w, http.StatusOK, mapBatch(batch))
}

func (s *Server) menteeInBatch(ctx context.Context, batchID, menteeID string) bool {
	members, err := s.store.ListActiveMembers(ctx, batchID)
	if err != nil {
		return false
	}
	for _, member := range members {
		if member.MenteeID == menteeID {
			return true
		}
	}
	return false
}

type patchBatchRequest struct {
	Name   *string `json:"name,omitempty"`
	Status *string `json:"status,omitempty"`
}

func (s *Server) handlePatchBatch(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	batchID := chi.URLParam(r, "batchId")
	if batchID == "" {
		writeError(w, http.StatusBadRequest, "missing_batch_id")
		return
	}

	batch, err := s.store.GetBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, http.StatusNotFound, "batch_not_found")
		return
	}

	allowed, err := s.canWrite(r, policy.Resource{Kind: "batch", OwnerID: batch.MentorID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req patchBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if req.Status != nil {
		status := strings.TrimSpace(strings.ToLower(*req.Status))
		isAdmin := claims != nil && claims.UserType == "admin"
		if !validBatchTransition(batch.Status, status, isAdmin) {
			writeError(w, http.StatusBadRequest, "invalid_status_transition")
			return
		}
		if err := s.store.UpdateBatchStatus(r.Context(), batchID, status); err != nil {
			writeError(w, http.StatusInternalServerError, "update_failed")
			return
		}
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name != "" {
			if err := s.store.UpdateBatchName(r.Context(), batchID, name); err != nil {
				writeError(w, http.StatusInternalServerError, "update_failed")
				return
			}
		}
	}

	updated, err := s.store.GetBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, http.StatusNotFound, "batch_not_found")
		return
	}
	writeJSON(w, http.StatusOK, mapBatch(updated))
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchId")
	if batchID == "" {
		writeError(w, http.StatusBadRequest, "missing_batch_id")
		return
	}

	deleted, err := s.store.DeleteBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "batch_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Memberships

type memberResponse struct {
	MenteeID string `json:"menteeId"`
	JoinedOn int64  `json:"joinedOn"`
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchId")
	if batchID == "" {
		writeError(w, http.StatusBadRequest, "missing_batch_id")
		return
	}

	batch, err := s.store.GetBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, http.StatusNotFound, "batch_not_found")
		return
	}

	allowed, err := s.canRead(r, policy.Resource{Kind: "batch", OwnerID: batch.MentorID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !allowed {
		writeError(w, http.StatusNotFound, "batch_not_found")
		return
	}

	members, err := s.store.ListActiveMembers(r.Context(), batchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := make([]memberResponse, 0, len(members))
	for _, member := range members {
		resp = append(resp, memberResponse{MenteeID: member.MenteeID, JoinedOn: member.JoinedAt.Unix()})
	}
	writeJSON(w, http.StatusOK, resp)
}

type addMemberRequest struct {
	MenteeID string `json:"menteeId"`
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchId")
	if batchID == "" {
		writeError(w, http.StatusBadRequest, "missing_batch_id")
		return
	}

	batch, err := s.store.GetBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, http.StatusNotFound, "batch_not_found")
		return
	}

	allowed, err := s.canWrite(r, policy.Resource{Kind: "batch", OwnerID: batch.MentorID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req addMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.MenteeID = strings.TrimSpace(req.MenteeID)
	if req.MenteeID == "" {
		writeError(w, http.StatusBadRequest, "missing_mentee_id")
		return
	}

	role, err := s.store.GetRole(r.Context(), req.MenteeID)
	if err != nil || role.UserType != "mentee" {
		writeError(w, http.StatusBadRequest, "not_a_mentee")
		return
	}
	if s.menteeInBatch(r.Context(), batchID, req.MenteeID) {
		writeError(w, http.StatusConflict, "already_member")
		return
	}

	membership := model.Membership{
		ID:       uuid.NewString(),
		BatchID:  batchID,
		MenteeID: req.MenteeID,
		JoinedAt: time.Now().UTC(),
	}
	if err := s.store.CreateMembership(r.Context(), membership); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			writeError(w, http.StatusConflict, "already_member")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, memberResponse{MenteeID: membership.MenteeID, JoinedOn: membership.JoinedAt.Unix()})
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchId")
	menteeID := chi.URLParam(r, "menteeId")
	if batchID == "" || menteeID == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	batch, err := s.store.GetBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, http.StatusNotFound, "batch_not_found")
		return
	}

	allowed, err := s.canWrite(r, policy.Resource{Kind: "batch", OwnerID: batch.MentorID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	ended, err := s.store.EndMembership(r.Context(), batchID, menteeID, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !ended {
		writeError(w, http.StatusNotFound, "membership_not_found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// Sadhana logs

type sadhanaResponse struct {
	ID             string `json:"id"`
	UserID         string `json:"userId"`
	Date           string `json:"date"`
	JapaRounds     int32  `json:"japaRounds"`
	ReadingMinutes int32  `json:"readingMinutes"`
	MangalaArati   bool   `json:"mangalaArati"`
	MorningProgram bool   `json:"morningProgram"`
	BookReading    bool   `json:"bookReading"`
	Score          int32  `json:"score"`
}

func mapSadhana(entry model.SadhanaLog) sadhanaResponse {
	return sadhanaResponse{
		ID:             entry.ID,
		UserID:         entry.UserID,
		Date:           entry.LogDate.Format("2006-01-02"),
		JapaRounds:     entry.JapaRounds,
		ReadingMinutes: entry.ReadingMinutes,
		MangalaArati:   entry.MangalaArati,
		MorningProgram: entry.MorningProgram,
		BookReading:    entry.BookReading,
		Score:          entry.Score,
	}
}

type createSadhanaRequest struct {
	Date           string `json:"date"`
	JapaRounds     int32  `json:"japaRounds"`
	ReadingMinutes int32  `json:"readingMinutes"`
	MangalaArati   bool   `json:"mangalaArati"`
	MorningProgram bool   `json:"morningProgram"`
	BookReading    bool   `json:"bookReading"`
}

func (s *Server) handleCreateSadhana(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req createSadhanaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	logDate, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}
	if req.JapaRounds < 0 || req.ReadingMinutes < 0 {
		writeError(w, http.StatusBadRequest, "invalid_counts")
		return
	}

	// Writes always land on the caller's own row; the self rule covers it,
	// but the decision still goes through the engine.
	allowed, err := s.canWrite(r, policy.Resource{Kind: "sadhana_log", OwnerID: claims.UserID})
	if err != nil || !allowed {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	now := time.Now().UTC()
	entry := model.SadhanaLog{
		ID:             uuid.NewString(),
		UserID:         claims.UserID,
		LogDate:        logDate,
		JapaRounds:     req.JapaRounds,
		ReadingMinutes: req.ReadingMinutes,
		MangalaArati:   req.MangalaArati,
		MorningProgram: req.MorningProgram,
		BookReading:    req.BookReading,
		Score:          computeSadhanaScore(req.JapaRounds, req.ReadingMinutes, req.MangalaArati, req.MorningProgram, req.BookReading),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateSadhanaLog(r.Context(), entry); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			writeError(w, http.StatusConflict, "duplicate_entry")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, mapSadhana(entry))
}

func (s *Server) handleListSadhana(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}

	allowed, err := s.canRead(r, policy.Resource{Kind: "sadhana_log", OwnerID: userID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !allowed {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	from, to, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}
	limit := parseLimit(r)

	entries, err := s.store.ListSadhanaLogs(r.Context(), userID, from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := make([]sadhanaResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, mapSadhana(entry))
	}
	writeJSON(w, http.StatusOK, resp)
}

type patchSadhanaRequest struct {
	JapaRounds     *int32 `json:"japaRounds,omitempty"`
	ReadingMinutes *int32 `json:"readingMinutes,omitempty"`
	MangalaArati   *bool  `json:"mangalaArati,omitempty"`
	MorningProgram *bool  `json:"morningProgram,omitempty"`
	BookReading    *bool  `json:"bookReading,omitempty"`
}

func (s *Server) handlePatchSadhana(w http.ResponseWriter, r *http.Request) {
	logID := chi.URLParam(r, "logId")
	if logID == "" {
		writeError(w, http.StatusBadRequest, "missing_log_id")
		return
	}

	entry, err := s.store.GetSadhanaLog(r.Context(), logID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	allowed, err := s.canWrite(r, policy.Resource{Kind: "sadhana_log", OwnerID: entry.UserID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req patchSadhanaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if (req.JapaRounds != nil && *req.JapaRounds < 0) || (req.ReadingMinutes != nil && *req.ReadingMinutes < 0) {
		writeError(w, http.StatusBadRequest, "invalid_counts")
		return
	}

	update := repository.SadhanaUpdate{
		JapaRounds:     req.JapaRounds,
		ReadingMinutes: req.ReadingMinutes,
		MangalaArati:   req.MangalaArati,
		MorningProgram: req.MorningProgram,
		BookReading:    req.BookReading,
	}

	// Recompute the score over the merged entry.
	merged := entry
	if req.JapaRounds != nil {
		merged.JapaRounds = *req.JapaRounds
	}
	if req.ReadingMinutes != nil {
		merged.ReadingMinutes = *req.ReadingMinutes
	}
	if req.MangalaArati != nil {
		merged.MangalaArati = *req.MangalaArati
	}
	if req.MorningProgram != nil {
		merged.MorningProgram = *req.MorningProgram
	}
	if req.BookReading != nil {
		merged.BookReading = *req.BookReading
	}
	score := computeSadhanaScore(merged.JapaRounds, merged.ReadingMinutes, merged.MangalaArati, merged.MorningProgram, merged.BookReading)
	update.Score = &score

	updated, err := s.store.UpdateSadhanaLog(r.Context(), logID, update)
	if err != nil {
		writeError(w, http.StatusBadRequest, "update_failed")
		return
	}
	writeJSON(w, http.StatusOK, mapSadhana(updated))
}

func (s *Server) handleDeleteSadhana(w http.ResponseWriter, r *http.Request) {
	logID := chi.URLParam(r, "logId")
	if logID == "" {
		writeError(w, http.StatusBadRequest, "missing_log_id")
		return
	}

	entry, err := s.store.GetSadhanaLog(r.Context(), logID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	allowed, err := s.canWrite(r, policy.Resource{Kind: "sadhana_log", OwnerID: entry.UserID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	deleted, err := s.store.DeleteSadhanaLog(r.Context(), logID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Service logs

type serviceResponse struct {
	ID            string  `json:"id"`
	UserID        string  `json:"userId"`
	DepartmentID  string  `json:"departmentId"`
	Date          string  `json:"date"`
	DurationHours float64 `json:"durationHours"`
	Description   *string `json:"description,omitempty"`
}

func mapService(entry model.ServiceLog) serviceResponse {
	return serviceResponse{
		ID:            entry.ID,
		UserID:        entry.UserID,
		DepartmentID:  entry.DepartmentID,
		Date:          entry.LogDate.Format("2006-01-02"),
		DurationHours: entry.DurationHours,
		Description:   entry.Description,
	}
}

type createServiceRequest struct {
	DepartmentID  string  `json:"departmentId"`
	Date          string  `json:"date"`
	DurationHours float64 `json:"durationHours"`
	Description   *string `json:"description,omitempty"`
}

func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req createServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	logDate, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}
	if req.DurationHours < 0 {
		writeError(w, http.StatusBadRequest, "invalid_duration")
		return
	}
	if !s.store.DepartmentExists(r.Context(), req.DepartmentID) {
		writeError(w, http.StatusBadRequest, "unknown_department")
		return
	}

	allowed, err := s.canWrite(r, policy.Resource{Kind: "service_log", OwnerID: claims.UserID})
	if err != nil || !allowed {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	entry := model.ServiceLog{
		ID:            uuid.NewString(),
		UserID:        claims.UserID,
		DepartmentID:  req.DepartmentID,
		LogDate:       logDate,
		DurationHours: req.DurationHours,
		Description:   req.Description,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateServiceLog(r.Context(), entry); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, mapService(entry))
}

func (s *Server) handleListService(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}

	allowed, err := s.canRead(r, policy.Resource{Kind: "service_log", OwnerID: userID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !allowed {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	from, to, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}
	limit := parseLimit(r)

	entries, err := s.store.ListServiceLogs(r.Context(), userID, from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := make([]serviceResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, mapService(entry))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Push tokens

type registerDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

type deviceResponse struct {
	ID         string `json:"id"`
	Token      string `json:"token"`
	Platform   string `json:"platform"`
	CreatedAt  string `json:"createdAt"`
	LastSeenAt string `json:"lastSeenAt"`
}

func mapDevice(token model.PushToken) deviceResponse {
	return deviceResponse{
		ID:         token.ID,
		Token:      token.Token,
		Platform:   token.Platform,
		CreatedAt:  token.CreatedAt.UTC().Format(time.RFC3339),
		LastSeenAt: token.LastSeenAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req registerDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "missing_device_token")
		return
	}
	platform, err := normalizePlatform(req.Platform)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_platform")
		return
	}

	now := time.Now().UTC()
	token := model.PushToken{
		ID:         uuid.NewString(),
		UserID:     claims.UserID,
		Token:      req.Token,
		Platform:   platform,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.store.UpsertPushToken(r.Context(), token); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	tokens, err := s.store.ListPushTokens(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := make([]deviceResponse, 0, len(tokens))
	for _, token := range tokens {
		resp = append(resp, mapDevice(token))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	tokenID := chi.URLParam(r, "tokenId")
	if tokenID == "" {
		writeError(w, http.StatusBadRequest, "missing_token_id")
		return
	}

	deleted, err := s.store.DeletePushToken(r.Context(), claims.UserID, tokenID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "device_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Reference lookups. Shared immutable rows are the one thing safe to cache;
// policy decisions never are.

type referenceEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleListSpiritualMasters(w http.ResponseWriter, r *http.Request) {
	s.serveReference(w, r, "reference:spiritual_masters", func(ctx context.Context) ([]referenceEntry, error) {
		masters, err := s.store.ListSpiritualMasters(ctx)
		if err != nil {
			return nil, err
		}
		entries := make([]referenceEntry, 0, len(masters))
		for _, master := range masters {
			entries = append(entries, referenceEntry{ID: master.ID, Name: master.Name})
		}
		return entries, nil
	})
}

func (s *Server) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	s.serveReference(w, r, "reference:departments", func(ctx context.Context) ([]referenceEntry, error) {
		departments, err := s.store.ListDepartments(ctx)
		if err != nil {
			return nil, err
		}
		entries := make([]referenceEntry, 0, len(departments))
		for _, department := range departments {
			entries = append(entries, referenceEntry{ID: department.ID, Name: department.Name})
		}
		return entries, nil
	})
}

func (s *Server) handleListCourseCategories(w http.ResponseWriter, r *http.Request) {
	s.serveReference(w, r, "reference:course_categories", func(ctx context.Context) ([]referenceEntry, error) {
		categories, err := s.store.ListCourseCategories(ctx)
		if err != nil {
			return nil, err
		}
		entries := make([]referenceEntry, 0, len(categories))
		for _, category := range categories {
			entries = append(entries, referenceEntry{ID: category.ID, Name: category.Name})
		}
		return entries, nil
	})
}

func (s *Server) serveReference(w http.ResponseWriter, r *http.Request, cacheKey string, load func(context.Context) ([]referenceEntry, error)) {
	if s.redis != nil {
		if raw, err := s.redis.Get(r.Context(), cacheKey).Result(); err == nil {
			var entries []referenceEntry
			if json.Unmarshal([]byte(raw), &entries) == nil {
				writeJSON(w, http.StatusOK, entries)
				return
			}
		}
	}

	entries, err := load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if entries == nil {
		entries = []referenceEntry{}
	}

	if s.redis != nil {
		if raw, err := json.Marshal(entries); err == nil {
			_ = s.redis.Set(r.Context(), cacheKey, raw, s.cfg.ReferenceCacheTTL).Err()
		}
	}

	writeJSON(w, http.StatusOK, entries)
}

// Helpers

func isValidRole(role string) bool {
	switch role {
	case "admin", "mentor", "mentee":
		return true
	default:
		return false
	}
}

func normalizePlatform(platform string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(platform)) {
	case "android":
		return "android", nil
	case "ios":
		return "ios", nil
	default:
		return "", errors.New("invalid platform")
	}
}

// validBatchTransition gates batch status changes: approval out of
// pending_approval is admin-only; an owning mentor may only toggle
// active/inactive.
func validBatchTransition(from, to string, isAdmin bool) bool {
	if !isValidBatchStatus(to) || from == to {
		return false
	}
	if isAdmin {
		return true
	}
	return from != model.BatchStatusPendingApproval && to != model.BatchStatusPendingApproval
}

func isValidBatchStatus(status string) bool {
	switch status {
	case model.BatchStatusPendingApproval, model.BatchStatusActive, model.BatchStatusInactive:
		return true
	default:
		return false
	}
}

// computeSadhanaScore is the daily score the mobile app displays: one point
// per japa round, one per 15 minutes of reading, ten per practice kept.
func computeSadhanaScore(japaRounds, readingMinutes int32, mangalaArati, morningProgram, bookReading bool) int32 {
	score := japaRounds + readingMinutes/15
	for _, kept := range []bool{mangalaArati, morningProgram, bookReading} {
		if kept {
			score += 10
		}
	}
	return score
}

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// parseLimit reads the limit query parameter, clamped to maxPageSize so a
// single request cannot drain a whole table.
func parseLimit(r *http.Request) int {
	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit
}

func parseDate(value string) (time.Time, error) {
	return time.Parse("2006-01-02", strings.TrimSpace(value))
}

func parseDateRange(r *http.Request) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			return nil, nil, err
		}
		from = &parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			return nil, nil, err
		}
		to = &parsed
	}
	return from, to, nil
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return ""
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
