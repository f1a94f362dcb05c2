package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"billing-backend/internal/cache"
	"billing-backend/internal/models"
	"billing-backend/internal/repositories"

	"github.com/shopspring/decimal"
)

var (
	ErrCustomerNameRequired  = errors.New("customer name is required")
	ErrCustomerEmailRequired = errors.New("customer email is required")
	ErrMarkupOutOfRange      = errors.New("markup percent must be between 0 and 10000")
)

var maxMarkupPercent = decimal.NewFromInt(10000)

type CustomerService struct {
	repo *repositories.CustomerRepository
}

func NewCustomerService(repo *repositories.CustomerRepository) *CustomerService {
	return &CustomerService{repo: repo}
}

func validateCustomerInput(name, email string, markup decimal.Decimal) error {
	if strings.TrimSpace(name) == "" {
		return ErrCustomerNameRequired
	}
	if strings.TrimSpace(email) == "" {
		return ErrCustomerEmailRequired
	}
	if markup.IsNegative() || markup.GreaterThan(maxMarkupPercent) {
		return ErrMarkupOutOfRange
	}
	return nil
}

func (s *CustomerService) Create(ctx context.Context, req *models.CreateCustomerRequest) (*models.Customer, error) {
	if err := validateCustomerInput(req.Name, req.Email, req.MarkupPercent); err != nil {
		return nil, err
	}

	customer := &models.Customer{
		Name:          strings.TrimSpace(req.Name),
		Email:         strings.TrimSpace(req.Email),
		MarkupPercent: req.MarkupPercent,
		AgentID:       strings.TrimSpace(req.AgentID),
		SMSNumber:     strings.TrimSpace(req.SMSNumber),
		VoiceNumber:   strings.TrimSpace(req.VoiceNumber),
		AutoInvoice:   req.AutoInvoice,
	}
	if err := s.repo.Create(ctx, customer); err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}

	cache.InvalidateCustomerCaches(ctx)
	return customer, nil
}

func (s *CustomerService) Get(ctx context.Context, id int) (*models.Customer, error) {
	return s.repo.Get(ctx, id)
}

func (s *CustomerService) List(ctx context.Context) ([]*models.Customer, error) {
	return s.repo.List(ctx)
}

func (s *CustomerService) Update(ctx context.Context, id int, req *models.UpdateCustomerRequest) (*models.Customer, error) {
	if err := validateCustomerInput(req.Name, req.Email, req.MarkupPercent); err != nil {
		return nil, err
	}

	customer, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	customer.Name = strings.TrimSpace(req.Name)
	customer.Email = strings.TrimSpace(req.Email)
	customer.MarkupPercent = req.MarkupPercent
	customer.AgentID = strings.TrimSpace(req.AgentID)
	customer.SMSNumber = strings.TrimSpace(req.SMSNumber)
	customer.VoiceNumber = strings.TrimSpace(req.VoiceNumber)
	customer.AutoInvoice = req.AutoInvoice

	if err := s.repo.Update(ctx, customer); err != nil {
		return nil, fmt.Errorf("update customer %d: %w", id, err)
	}

	cache.InvalidateCustomerCaches(ctx)
	return customer, nil
}

// Delete removes a customer. Customers with ledger entries cannot be
// deleted; the repository surfaces that as ErrCustomerHasInvoices.
func (s *CustomerService) Delete(ctx context.Context, id int) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	cache.InvalidateCustomerCaches(ctx)
	return nil
}
