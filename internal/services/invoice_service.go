package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"billing-backend/internal/cache"
	"billing-backend/internal/models"
	"billing-backend/internal/repositories"
)

type InvoiceService struct {
	repo *repositories.InvoiceRepository
}

func NewInvoiceService(repo *repositories.InvoiceRepository) *InvoiceService {
	return &InvoiceService{repo: repo}
}

func (s *InvoiceService) Get(ctx context.Context, id int) (*models.Invoice, error) {
	return s.repo.Get(ctx, id)
}

func (s *InvoiceService) List(ctx context.Context) ([]*models.Invoice, error) {
	return s.repo.List(ctx)
}

func (s *InvoiceService) GetByCustomer(ctx context.Context, customerID int) ([]*models.Invoice, error) {
	return s.repo.GetByCustomer(ctx, customerID)
}

func (s *InvoiceService) Stats(ctx context.Context) (*models.InvoiceStats, error) {
	return s.repo.Stats(ctx)
}

// UpdateStatus applies an explicit status change. Illegal transitions are
// rejected before anything is written; the ledger only ever moves forward.
func (s *InvoiceService) UpdateStatus(ctx context.Context, id int, to models.InvoiceStatus) (*models.Invoice, error) {
	invoice, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !models.CanTransition(invoice.Status, to) {
		return nil, fmt.Errorf("invoice %s cannot move from %s to %s",
			invoice.InvoiceNumber, invoice.Status, to)
	}

	now := time.Now()
	var sentAt, paidAt *time.Time
	switch to {
	case models.InvoiceStatusSent:
		sentAt = &now
	case models.InvoiceStatusPaid:
		paidAt = &now
	}

	if err := s.repo.UpdateStatus(ctx, id, to, sentAt, paidAt); err != nil {
		return nil, fmt.Errorf("update invoice %d status: %w", id, err)
	}

	cache.InvalidateInvoiceCaches(ctx)
	return s.repo.Get(ctx, id)
}

// MarkOverdue flips sent invoices whose due date has passed.
func (s *InvoiceService) MarkOverdue(ctx context.Context) (int, error) {
	n, err := s.repo.MarkOverdue(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		cache.InvalidateInvoiceCaches(ctx)
	}
	return n, nil
}

// StartOverdueSweep runs the overdue check once at startup and then every
// interval until ctx is cancelled.
func (s *InvoiceService) StartOverdueSweep(ctx context.Context, interval time.Duration) {
	go func() {
		sweep := func() {
			n, err := s.MarkOverdue(ctx)
			if err != nil {
				log.Printf("[Invoice] overdue sweep failed: %v", err)
				return
			}
			if n > 0 {
				log.Printf("[Invoice] marked %d invoices overdue", n)
			}
		}

		sweep()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep()
			}
		}
	}()
}
