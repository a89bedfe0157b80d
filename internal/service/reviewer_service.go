package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/brightfund/review-api/internal/models"
	appErrors "github.com/brightfund/review-api/pkg/errors"
)

const tokenPrefix = "rev_"

type reviewerTypeRepo interface {
	ListByWorkspace(ctx context.Context, workspaceID string) ([]models.ReviewerType, error)
	GetByID(ctx context.Context, id string) (*models.ReviewerType, error)
	Create(ctx context.Context, rType *models.ReviewerType) error
	Update(ctx context.Context, rType *models.ReviewerType) error
	Delete(ctx context.Context, id string) error
}

type reviewerRepo interface {
	ListByForm(ctx context.Context, formID string) ([]models.Reviewer, error)
	GetByID(ctx context.Context, id string) (*models.Reviewer, error)
	GetByEmail(ctx context.Context, formID, email string) (*models.Reviewer, error)
	Create(ctx context.Context, reviewer *models.Reviewer) error
	UpdateStatus(ctx context.Context, id string, status models.ReviewerStatus) error
	Delete(ctx context.Context, id string) error
}

type applicationReader interface {
	ListByForm(ctx context.Context, formID string) ([]models.Application, error)
}

// UpsertReviewerTypeRequest carries a reviewer type payload.
type UpsertReviewerTypeRequest struct {
	WorkspaceID string         `json:"workspace_id" validate:"required"`
	Name        string         `json:"name" validate:"required"`
	Description *string        `json:"description"`
	Permissions models.BoolMap `json:"permissions"`
}

// CreateReviewerRequest invites a reviewer to a form.
type CreateReviewerRequest struct {
	FormID         string  `json:"form_id" validate:"required"`
	ReviewerTypeID *string `json:"reviewer_type_id"`
	Name           string  `json:"name" validate:"required"`
	Email          string  `json:"email" validate:"required,email"`
}

// CreatedReviewer pairs a stored reviewer with the plaintext access token.
// The token is only available at creation time.
type CreatedReviewer struct {
	Reviewer models.Reviewer `json:"reviewer"`
	Token    string          `json:"token"`
}

// ReviewerSession is the result of exchanging an access token.
type ReviewerSession struct {
	Reviewer  models.Reviewer `json:"reviewer"`
	JWT       string          `json:"jwt"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// ReviewerService manages reviewer types, reviewer invitations and external
// review sessions.
type ReviewerService struct {
	types         reviewerTypeRepo
	reviewers     reviewerRepo
	applications  applicationReader
	jwtSecret     []byte
	jwtExpiration time.Duration
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewReviewerService constructs ReviewerService.
func NewReviewerService(types reviewerTypeRepo, reviewers reviewerRepo, applications applicationReader, jwtSecret string, jwtExpiration time.Duration, validate *validator.Validate, logger *zap.Logger) *ReviewerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if jwtExpiration <= 0 {
		jwtExpiration = 14 * 24 * time.Hour
	}
	return &ReviewerService{
		types:         types,
		reviewers:     reviewers,
		applications:  applications,
		jwtSecret:     []byte(jwtSecret),
		jwtExpiration: jwtExpiration,
		validator:     validate,
		logger:        logger,
	}
}

// ListTypes returns a workspace's reviewer types.
func (s *ReviewerService) ListTypes(ctx context.Context, workspaceID string) ([]models.ReviewerType, error) {
	types, err := s.types.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reviewer types")
	}
	return types, nil
}

// GetType returns one reviewer type.
func (s *ReviewerService) GetType(ctx context.Context, id string) (*models.ReviewerType, error) {
	rType, err := s.types.GetByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "reviewer type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reviewer type")
	}
	return rType, nil
}

// CreateType creates a reviewer type.
func (s *ReviewerService) CreateType(ctx context.Context, req UpsertReviewerTypeRequest) (*models.ReviewerType, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reviewer type payload")
	}
	now := time.Now().UTC()
	rType := &models.ReviewerType{
		ID:          uuid.NewString(),
		WorkspaceID: req.WorkspaceID,
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.types.Create(ctx, rType); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reviewer type")
	}
	return rType, nil
}

// UpdateType replaces a reviewer type's definition.
func (s *ReviewerService) UpdateType(ctx context.Context, id string, req UpsertReviewerTypeRequest) (*models.ReviewerType, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reviewer type payload")
	}
	rType, err := s.types.GetByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "reviewer type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reviewer type")
	}
	rType.Name = req.Name
	rType.Description = req.Description
	rType.Permissions = req.Permissions
	if err := s.types.Update(ctx, rType); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update reviewer type")
	}
	return rType, nil
}

// DeleteType removes a reviewer type.
func (s *ReviewerService) DeleteType(ctx context.Context, id string) error {
	if err := s.types.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "reviewer type not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete reviewer type")
	}
	return nil
}

// List returns a form's reviewers with workload counters derived from the
// current application set.
func (s *ReviewerService) List(ctx context.Context, formID string) ([]models.ReviewerWithStats, error) {
	reviewers, err := s.reviewers.ListByForm(ctx, formID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reviewers")
	}
	apps, err := s.applications.ListByForm(ctx, formID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	assigned := make(map[string]int)
	completed := make(map[string]int)
	for i := range apps {
		for _, reviewerID := range apps[i].AssignedReviewers {
			assigned[reviewerID]++
		}
		seen := make(map[string]struct{})
		for _, entry := range apps[i].ReviewHistory {
			if _, ok := seen[entry.ReviewerID]; ok {
				continue
			}
			seen[entry.ReviewerID] = struct{}{}
			completed[entry.ReviewerID]++
		}
	}
	result := make([]models.ReviewerWithStats, 0, len(reviewers))
	for _, reviewer := range reviewers {
		result = append(result, models.ReviewerWithStats{
			Reviewer:       reviewer,
			AssignedCount:  assigned[reviewer.ID],
			CompletedCount: completed[reviewer.ID],
		})
	}
	return result, nil
}

// Get returns one reviewer.
func (s *ReviewerService) Get(ctx context.Context, id string) (*models.Reviewer, error) {
	reviewer, err := s.reviewers.GetByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "reviewer not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reviewer")
	}
	return reviewer, nil
}

// Create invites a reviewer and mints their access token. The plaintext token
// is returned exactly once; only its bcrypt hash is stored.
func (s *ReviewerService) Create(ctx context.Context, req CreateReviewerRequest) (*CreatedReviewer, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reviewer payload")
	}
	if existing, err := s.reviewers.GetByEmail(ctx, req.FormID, req.Email); err == nil && existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "reviewer already invited with that email")
	} else if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check reviewer email")
	}
	if req.ReviewerTypeID != nil {
		if _, err := s.types.GetByID(ctx, *req.ReviewerTypeID); err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "reviewer type not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reviewer type")
		}
	}

	id := uuid.NewString()
	secret, err := randomSecret()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate token")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash token")
	}

	now := time.Now().UTC()
	reviewer := &models.Reviewer{
		ID:             id,
		FormID:         req.FormID,
		ReviewerTypeID: req.ReviewerTypeID,
		Name:           req.Name,
		Email:          strings.ToLower(req.Email),
		TokenHash:      string(hash),
		Status:         models.ReviewerStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.reviewers.Create(ctx, reviewer); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reviewer")
	}
	return &CreatedReviewer{
		Reviewer: *reviewer,
		Token:    fmt.Sprintf("%s%s.%s", tokenPrefix, id, secret),
	}, nil
}

// UpdateStatus transitions a reviewer's lifecycle status.
func (s *ReviewerService) UpdateStatus(ctx context.Context, id string, status models.ReviewerStatus) error {
	switch status {
	case models.ReviewerStatusActive, models.ReviewerStatusCompleted, models.ReviewerStatusExpired:
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unknown reviewer status")
	}
	if err := s.reviewers.UpdateStatus(ctx, id, status); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "reviewer not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update reviewer status")
	}
	return nil
}

// Delete revokes a reviewer.
func (s *ReviewerService) Delete(ctx context.Context, id string) error {
	if err := s.reviewers.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "reviewer not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete reviewer")
	}
	return nil
}

// ExchangeToken trades a reviewer access token for a short-lived JWT session.
// Tokens look like rev_<reviewer-id>.<secret>; only active reviewers may
// start sessions.
func (s *ReviewerService) ExchangeToken(ctx context.Context, token string) (*ReviewerSession, error) {
	reviewerID, secret, err := splitToken(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid access token")
	}
	reviewer, err := s.reviewers.GetByID(ctx, reviewerID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid access token")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reviewer")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(reviewer.TokenHash), []byte(secret)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid access token")
	}
	if reviewer.Status != models.ReviewerStatusActive {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "reviewer access is no longer active")
	}

	expiresAt := time.Now().UTC().Add(s.jwtExpiration)
	claims := models.ReviewerClaims{
		ReviewerID: reviewer.ID,
		FormID:     reviewer.FormID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   reviewer.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign session token")
	}
	return &ReviewerSession{Reviewer: *reviewer, JWT: signed, ExpiresAt: expiresAt}, nil
}

// ValidateSession parses and verifies a reviewer session JWT.
func (s *ReviewerService) ValidateSession(tokenString string) (*models.ReviewerClaims, error) {
	claims := &models.ReviewerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid session token")
	}
	return claims, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func splitToken(token string) (reviewerID, secret string, err error) {
	if !strings.HasPrefix(token, tokenPrefix) {
		return "", "", fmt.Errorf("missing token prefix")
	}
	rest := strings.TrimPrefix(token, tokenPrefix)
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed token")
	}
	return parts[0], parts[1], nil
}
