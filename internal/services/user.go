package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"offerwall/internal/datastore"
	"offerwall/internal/interfaces"
	"offerwall/internal/models"
	"offerwall/internal/pkg/caching"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis_rate/v10"
	"github.com/samber/do"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type RegisterRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	PaypalEmail string `json:"paypal_email" validate:"omitempty,email"`
}

type AuthResult struct {
	Token string       `json:"access_token"`
	Type  string       `json:"token_type"`
	User  *models.User `json:"user"`
}

type DashboardStats struct {
	TotalEarnings   decimal.Decimal     `json:"total_earnings"`
	CompletedOffers int                 `json:"completed_offers"`
	PendingOffers   int                 `json:"pending_offers"`
	Balance         decimal.Decimal     `json:"balance"`
	RecentEarnings  []*models.Earning   `json:"recent_earnings"`
	RecentOffers    []*models.UserOffer `json:"recent_offers"`
}

type ServiceUser struct {
	container          *do.Injector
	postgresDB         *bun.DB
	readonlyPostgresDB *bun.DB
	cache              caching.Cache
	readonlyCache      caching.ReadOnlyCache
	limiter            interfaces.Limiter
	authentication     *Authentication
	validate           *validator.Validate
}

func NewServiceUser(container *do.Injector) (*ServiceUser, error) {
	postgresDB, err := do.Invoke[*bun.DB](container)
	if err != nil {
		return nil, err
	}

	readonlyPostgresDB, err := do.InvokeNamed[*bun.DB](container, "db-readonly")
	if err != nil {
		return nil, err
	}

	cache, err := do.Invoke[caching.Cache](container)
	if err != nil {
		return nil, err
	}

	readonlyCache, err := do.Invoke[caching.ReadOnlyCache](container)
	if err != nil {
		return nil, err
	}

	limiter, err := do.Invoke[interfaces.Limiter](container)
	if err != nil {
		return nil, err
	}

	authentication, err := do.Invoke[*Authentication](container)
	if err != nil {
		return nil, err
	}

	return &ServiceUser{container, postgresDB, readonlyPostgresDB, cache, readonlyCache, limiter, authentication, newValidator()}, nil
}

func (service *ServiceUser) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.PaypalEmail = strings.TrimSpace(req.PaypalEmail)

	if err := service.validateStruct(req); err != nil {
		return nil, err
	}

	exists, err := datastore.CheckUserExists(ctx, service.postgresDB, req.Username, req.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	paypalEmail := req.PaypalEmail
	if paypalEmail == "" {
		paypalEmail = req.Email
	}

	user, err := datastore.CreateUser(ctx, service.postgresDB, &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		PaypalEmail:  strings.ToLower(paypalEmail),
		Balance:      decimal.Zero,
		TotalEarned:  decimal.Zero,
		IsActive:     true,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("user registered", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	return service.issue(user)
}

func (service *ServiceUser) Login(ctx context.Context, login string, password string) (*AuthResult, error) {
	err := service.limiter.Allow(ctx, LimitKeyLogin(login), redis_rate.PerMinute(LOGIN_RATE_LIMIT_PER_MINUTE))
	if err != nil {
		return nil, err
	}

	user, err := datastore.FindUserByLogin(ctx, service.postgresDB, login)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return service.issue(user)
}

func (service *ServiceUser) issue(user *models.User) (*AuthResult, error) {
	token, err := service.authentication.CreateToken(&models.UserFromAuth{ID: user.ID, Username: user.Username})
	if err != nil {
		return nil, err
	}

	return &AuthResult{Token: token, Type: "bearer", User: user}, nil
}

func (service *ServiceUser) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := datastore.FindUserByID(ctx, service.readonlyPostgresDB, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Resource: "user", ID: fmt.Sprint(userID)}
		}
		return nil, err
	}
	return user, nil
}

func (service *ServiceUser) UpdatePaypalEmail(ctx context.Context, userID int64, paypalEmail string) (*models.User, error) {
	paypalEmail = strings.ToLower(strings.TrimSpace(paypalEmail))
	if err := service.validate.Var(paypalEmail, "required,email"); err != nil {
		return nil, &ValidationError{Problems: []string{"Valid PayPal email required"}}
	}

	if err := datastore.UpdateUserPaypalEmail(ctx, service.postgresDB, userID, paypalEmail); err != nil {
		return nil, err
	}

	return datastore.FindUserByID(ctx, service.postgresDB, userID)
}

func (service *ServiceUser) Dashboard(ctx context.Context, userID int64) (*DashboardStats, error) {
	callback := func() (*DashboardStats, error) {
		user, err := datastore.FindUserByID(ctx, service.readonlyPostgresDB, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, &NotFoundError{Resource: "user", ID: fmt.Sprint(userID)}
			}
			return nil, err
		}

		completed, err := datastore.CountUserOffersByStatus(ctx, service.readonlyPostgresDB, userID, models.UserOfferStatusCompleted)
		if err != nil {
			return nil, err
		}

		pending, err := datastore.CountUserOffersByStatus(ctx, service.readonlyPostgresDB, userID, models.UserOfferStatusStarted, models.UserOfferStatusInProgress)
		if err != nil {
			return nil, err
		}

		earnings, err := datastore.GetRecentEarnings(ctx, service.readonlyPostgresDB, userID, DASHBOARD_RECENT_LIMIT)
		if err != nil {
			return nil, err
		}

		userOffers, err := datastore.GetRecentUserOffers(ctx, service.readonlyPostgresDB, userID, DASHBOARD_RECENT_LIMIT)
		if err != nil {
			return nil, err
		}

		return &DashboardStats{
			TotalEarnings:   user.TotalEarned,
			CompletedOffers: completed,
			PendingOffers:   pending,
			Balance:         user.Balance,
			RecentEarnings:  earnings,
			RecentOffers:    userOffers,
		}, nil
	}

	return caching.UseCacheWithRO(ctx, service.readonlyCache, service.cache, DBKeyDashboard(userID), CACHE_TTL_15_SECONDS, callback)
}

func (service *ServiceUser) validateStruct(v any) error {
	err := service.validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}

	problems := &ValidationError{}
	for _, fe := range fieldErrors {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			problems.Add("%s is required", field)
		case "email":
			problems.Add("%s must be a valid email", field)
		case "min":
			problems.Add("%s must be at least %s characters", field, fe.Param())
		case "max":
			problems.Add("%s must be at most %s characters", field, fe.Param())
		case "alphanum":
			problems.Add("%s may only contain letters and digits", field)
		default:
			problems.Add("%s is invalid", field)
		}
	}
	return problems.OrNil()
}

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}
