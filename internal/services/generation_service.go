package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"billing-backend/internal/cache"
	"billing-backend/internal/config"
	"billing-backend/internal/metrics"
	"billing-backend/internal/models"
	"billing-backend/internal/money"

	"github.com/google/uuid"
)

// InvoicingProvider is the external invoicing system the run drives.
// Implemented by StripeService.
type InvoicingProvider interface {
	CreateCustomer(ctx context.Context, customer *models.Customer) (string, error)
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*ProviderInvoice, error)
	FinalizeInvoice(ctx context.Context, stripeInvoiceID string) (*ProviderInvoice, error)
	SendInvoice(ctx context.Context, stripeInvoiceID string) (*ProviderInvoice, error)
}

// InvoiceLedger persists the local record of each generated invoice.
type InvoiceLedger interface {
	Create(ctx context.Context, inv *models.Invoice) error
}

// PreviewBuilder builds the per-customer preview table for a period.
type PreviewBuilder interface {
	BuildPreviews(ctx context.Context, period models.BillingPeriod) ([]models.InvoicePreview, error)
}

var (
	ErrRunNotFound    = errors.New("generation run not found")
	ErrWrongStep      = errors.New("operation not valid in current step")
	ErrNothingSelect  = errors.New("no customers selected")
	ErrRunInProgress  = errors.New("run is already processing")
	ErrUnknownMode    = errors.New("unknown invoice mode")
	ErrBackNotAllowed = errors.New("cannot go back from this step")
)

// GenerationRun is one pass through the invoice generation wizard. Runs
// live in memory only; restarting the server abandons them, which is safe
// because every durable effect (provider invoices, ledger rows) is written
// as it happens.
type GenerationRun struct {
	ID        string                   `json:"id"`
	Step      models.GenerationStep    `json:"step"`
	Period    models.BillingPeriod     `json:"period"`
	Previews  []models.InvoicePreview  `json:"previews"`
	Options   models.GenerationOptions `json:"options"`
	Progress  models.Progress          `json:"progress"`
	Results   []models.InvoiceResult   `json:"results"`
	Summary   models.RunSummary        `json:"summary"`
	CreatedAt time.Time                `json:"created_at"`

	cancel context.CancelFunc
}

// GenerationService owns the wizard state machine and the processing
// loop. All state mutations go through the service mutex; the processing
// goroutine copies what it needs before starting.
type GenerationService struct {
	mu   sync.Mutex
	runs map[string]*GenerationRun

	previews  PreviewBuilder
	customers CustomerDirectory
	provider  InvoicingProvider
	ledger    InvoiceLedger
	cfg       config.InvoicingConfig

	subs map[string][]chan models.Progress
}

func NewGenerationService(
	previews PreviewBuilder,
	customers CustomerDirectory,
	provider InvoicingProvider,
	ledger InvoiceLedger,
	cfg config.InvoicingConfig,
) *GenerationService {
	return &GenerationService{
		runs:      make(map[string]*GenerationRun),
		previews:  previews,
		customers: customers,
		provider:  provider,
		ledger:    ledger,
		cfg:       cfg,
		subs:      make(map[string][]chan models.Progress),
	}
}

// StartRun opens a new wizard at the date range step.
func (s *GenerationService) StartRun() *GenerationRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()

	run := &GenerationRun{
		ID:        uuid.NewString(),
		Step:      models.StepDateRange,
		CreatedAt: time.Now(),
		Options: models.GenerationOptions{
			Mode:                models.ModeDraft,
			DueInDays:           s.cfg.DueInDays,
			AutoCreateCustomers: s.cfg.AutoCreateCustomers,
		},
	}
	s.runs[run.ID] = run
	return snapshot(run)
}

// finished runs linger so the operator can revisit results, but not forever
const runRetention = 24 * time.Hour

func (s *GenerationService) pruneLocked() {
	cutoff := time.Now().Add(-runRetention)
	for id, run := range s.runs {
		if run.CreatedAt.Before(cutoff) && run.Step != models.StepProcessing {
			delete(s.runs, id)
			delete(s.subs, id)
		}
	}
}

// GetRun returns a snapshot of the run's current state.
func (s *GenerationService) GetRun(runID string) (*GenerationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return snapshot(run), nil
}

// SetPeriod builds previews for the chosen period and advances to the
// preview step. Building previews is the slow part of the wizard; the
// handler's request context bounds it.
func (s *GenerationService) SetPeriod(ctx context.Context, runID string, period models.BillingPeriod) (*GenerationRun, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	run, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrRunNotFound
	}
	if run.Step != models.StepDateRange {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: step is %s", ErrWrongStep, run.Step)
	}
	s.mu.Unlock()

	previews, err := s.previews.BuildPreviews(ctx, period)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if run.Step != models.StepDateRange {
		return nil, fmt.Errorf("%w: step is %s", ErrWrongStep, run.Step)
	}
	run.Period = period
	run.Previews = previews
	run.Step = models.StepPreview
	return snapshot(run), nil
}

// SetSelection replaces the selected set on the preview step.
func (s *GenerationService) SetSelection(runID string, customerIDs []int) (*GenerationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	if run.Step != models.StepPreview {
		return nil, fmt.Errorf("%w: step is %s", ErrWrongStep, run.Step)
	}

	selected := make(map[int]bool, len(customerIDs))
	for _, id := range customerIDs {
		selected[id] = true
	}
	for i := range run.Previews {
		run.Previews[i].Selected = selected[run.Previews[i].CustomerID]
	}
	return snapshot(run), nil
}

// ConfirmPreview advances preview -> options. At least one customer must
// be selected.
func (s *GenerationService) ConfirmPreview(runID string) (*GenerationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	if run.Step != models.StepPreview {
		return nil, fmt.Errorf("%w: step is %s", ErrWrongStep, run.Step)
	}
	if countSelected(run.Previews) == 0 {
		return nil, ErrNothingSelect
	}
	run.Step = models.StepOptions
	return snapshot(run), nil
}

// SetOptions stores the options-step configuration.
func (s *GenerationService) SetOptions(runID string, opts models.GenerationOptions) (*GenerationRun, error) {
	switch opts.Mode {
	case models.ModeDraft, models.ModeFinalize, models.ModeSend:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, opts.Mode)
	}
	if opts.DueInDays <= 0 {
		opts.DueInDays = s.cfg.DueInDays
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	if run.Step != models.StepOptions {
		return nil, fmt.Errorf("%w: step is %s", ErrWrongStep, run.Step)
	}
	run.Options = opts
	return snapshot(run), nil
}

// Back steps the wizard backwards. Only preview -> date_range and
// options -> preview are legal; a run that started processing can never
// rewind.
func (s *GenerationService) Back(runID string) (*GenerationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	switch run.Step {
	case models.StepPreview:
		run.Step = models.StepDateRange
		run.Previews = nil
	case models.StepOptions:
		run.Step = models.StepPreview
	default:
		return nil, fmt.Errorf("%w: step is %s", ErrBackNotAllowed, run.Step)
	}
	return snapshot(run), nil
}

// Process kicks off the generation loop in the background and moves the
// run to processing. It returns immediately; progress is polled or
// streamed.
func (s *GenerationService) Process(runID string) (*GenerationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	if run.Step == models.StepProcessing {
		return nil, ErrRunInProgress
	}
	if run.Step != models.StepOptions {
		return nil, fmt.Errorf("%w: step is %s", ErrWrongStep, run.Step)
	}

	selected := selectedPreviews(run.Previews)
	if len(selected) == 0 {
		return nil, ErrNothingSelect
	}

	ctx, cancel := context.WithCancel(context.Background())
	run.cancel = cancel
	run.Step = models.StepProcessing
	run.Progress = models.Progress{Current: 0, Total: len(selected)}
	run.Results = nil

	go s.process(ctx, run.ID, run.Period, run.Options, selected)

	return snapshot(run), nil
}

// Cancel stops a processing run between customers. Work already sent to
// the provider stands.
func (s *GenerationService) Cancel(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if run.Step != models.StepProcessing || run.cancel == nil {
		return fmt.Errorf("%w: step is %s", ErrWrongStep, run.Step)
	}
	run.cancel()
	return nil
}

// Subscribe returns a channel receiving progress updates for the run.
// The caller must invoke the returned function when done.
func (s *GenerationService) Subscribe(runID string) (<-chan models.Progress, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return nil, nil, ErrRunNotFound
	}

	ch := make(chan models.Progress, 16)
	s.subs[runID] = append(s.subs[runID], ch)

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		chans := s.subs[runID]
		for i, c := range chans {
			if c == ch {
				s.subs[runID] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, unsubscribe, nil
}

// process is the sequential generation loop. Customers are handled one at
// a time in preview order; every selected customer produces exactly one
// result, success or failure.
func (s *GenerationService) process(ctx context.Context, runID string, period models.BillingPeriod, opts models.GenerationOptions, selected []models.InvoicePreview) {
	// The loop runs outside any HTTP middleware; a panic here must not
	// crash the process or leave the run stuck in processing.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Generation] run %s: panic: %v\n%s", runID, r, debug.Stack())
			s.mu.Lock()
			defer s.mu.Unlock()
			if run, ok := s.runs[runID]; ok && run.Step == models.StepProcessing {
				run.Step = models.StepResults
				run.cancel = nil
			}
		}
	}()

	start := time.Now()
	log.Printf("[Generation] run %s: processing %d customers (mode=%s)", runID, len(selected), opts.Mode)

	results := make([]models.InvoiceResult, 0, len(selected))
	for i, preview := range selected {
		if err := ctx.Err(); err != nil {
			// Cancelled between customers. The remainder still get a
			// result each so the run summary accounts for everyone.
			for _, rest := range selected[i:] {
				results = append(results, models.InvoiceResult{
					CustomerID:   rest.CustomerID,
					CustomerName: rest.CustomerName,
					OK:           false,
					Error:        "run cancelled",
					Total:        money.Zero,
				})
			}
			break
		}

		result := s.generateOne(ctx, runID, period, opts, preview)
		results = append(results, result)

		if result.OK {
			metrics.InvoicesGeneratedTotal.WithLabelValues(string(opts.Mode)).Inc()
		} else {
			metrics.InvoicesFailedTotal.Inc()
			log.Printf("[Generation] run %s: customer %d (%s) failed: %s",
				runID, preview.CustomerID, preview.CustomerName, result.Error)
		}

		s.advanceProgress(runID, i+1, len(selected))
	}

	summary := models.Summarize(results)
	metrics.GenerationRunDuration.Observe(time.Since(start).Seconds())
	cache.InvalidateInvoiceCaches(context.Background())
	log.Printf("[Generation] run %s: done in %s (%d ok, %d failed, %s invoiced)",
		runID, time.Since(start).Round(time.Millisecond), summary.Succeeded, summary.Failed, summary.TotalInvoiced)

	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return
	}
	run.Results = results
	run.Summary = summary
	run.Step = models.StepResults
	run.cancel = nil
}

// generateOne drives the provider for a single customer:
// resolve identity -> line items -> create -> finalize -> send,
// stopping where the mode says to stop.
func (s *GenerationService) generateOne(ctx context.Context, runID string, period models.BillingPeriod, opts models.GenerationOptions, preview models.InvoicePreview) (result models.InvoiceResult) {
	fail := func(err error) models.InvoiceResult {
		return models.InvoiceResult{
			CustomerID:   preview.CustomerID,
			CustomerName: preview.CustomerName,
			OK:           false,
			Error:        err.Error(),
			Total:        money.Zero,
		}
	}

	// A panic generating one invoice fails that customer, not the batch.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Generation] run %s: customer %d panicked: %v\n%s",
				runID, preview.CustomerID, r, debug.Stack())
			result = fail(fmt.Errorf("internal error: %v", r))
		}
	}()

	// Re-read the customer so identity backfilled by a concurrent edit is
	// seen, and the markup used for the preview is what gets invoiced.
	customer, err := s.customers.Get(ctx, preview.CustomerID)
	if err != nil {
		return fail(fmt.Errorf("load customer: %w", err))
	}

	if !customer.HasBillingIdentity() {
		if !opts.AutoCreateCustomers {
			return fail(errors.New("customer has no billing identity and auto-create is off"))
		}
		stripeID, err := s.provider.CreateCustomer(ctx, customer)
		if err != nil {
			return fail(fmt.Errorf("create provider customer: %w", err))
		}
		// Backfill immediately so a later failure in this run, or a
		// retried run, never creates a second identity.
		if err := s.customers.SetStripeCustomerID(ctx, customer.ID, stripeID); err != nil {
			return fail(fmt.Errorf("record provider customer ID: %w", err))
		}
		customer.StripeCustomerID = stripeID
	}

	lines := buildLines(preview.Breakdown, customer, period)
	if len(lines) == 0 {
		return fail(errors.New("no billable usage for period"))
	}

	req := CreateInvoiceRequest{
		StripeCustomerID: customer.StripeCustomerID,
		Currency:         s.cfg.Currency,
		DaysUntilDue:     opts.DueInDays,
		Lines:            lines,
		Metadata: map[string]string{
			"run_id":       runID,
			"customer_id":  fmt.Sprintf("%d", customer.ID),
			"period_start": period.Start.Format("2006-01-02"),
			"period_end":   period.End.Format("2006-01-02"),
		},
		IdempotencyKey: idempotencyKey(runID, customer.ID, period),
	}

	inv, err := s.provider.CreateInvoice(ctx, req)
	if err != nil {
		return fail(fmt.Errorf("create invoice: %w", err))
	}

	// Finalize strictly before send; a draft can never be emailed.
	if opts.Mode == models.ModeFinalize || opts.Mode == models.ModeSend {
		finalized, err := s.provider.FinalizeInvoice(ctx, inv.ID)
		if err != nil {
			return fail(fmt.Errorf("finalize invoice %s: %w", inv.ID, err))
		}
		inv = finalized
	}
	if opts.Mode == models.ModeSend {
		sent, err := s.provider.SendInvoice(ctx, inv.ID)
		if err != nil {
			return fail(fmt.Errorf("send invoice %s: %w", inv.ID, err))
		}
		inv = sent
	}

	record := ledgerRecord(customer, period, preview.Breakdown, opts, inv)
	if err := s.ledger.Create(ctx, record); err != nil {
		// The provider invoice exists; surface the persistence failure
		// instead of pretending the customer succeeded cleanly.
		return fail(fmt.Errorf("invoice %s created but not recorded: %w", inv.ID, err))
	}

	return models.InvoiceResult{
		CustomerID:   customer.ID,
		CustomerName: customer.Name,
		OK:           true,
		InvoiceID:    inv.ID,
		Total:        preview.Breakdown.Total,
	}
}

func (s *GenerationService) advanceProgress(runID string, current, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return
	}
	run.Progress = models.Progress{Current: current, Total: total}

	for _, ch := range s.subs[runID] {
		select {
		case ch <- run.Progress:
		default:
			// Slow subscriber; progress is monotonic so dropping an
			// update loses nothing.
		}
	}
}

// buildLines converts a breakdown into provider line items. Decimal
// amounts cross into integer cents exactly once, here.
func buildLines(b models.CostBreakdown, customer *models.Customer, period models.BillingPeriod) []InvoiceLine {
	label := period.Label()
	var lines []InvoiceLine

	if b.SMSCost.IsPositive() {
		lines = append(lines, InvoiceLine{
			Description: fmt.Sprintf("SMS usage, %d segments (%s)", b.SMSSegments, label),
			AmountCents: money.ToCents(b.SMSCost),
		})
	}
	if b.VoiceCost.IsPositive() {
		lines = append(lines, InvoiceLine{
			Description: fmt.Sprintf("Voice usage, %s minutes (%s)", b.CallMinutes.StringFixed(1), label),
			AmountCents: money.ToCents(b.VoiceCost),
		})
	}
	if b.ConvAICost.IsPositive() {
		lines = append(lines, InvoiceLine{
			Description: fmt.Sprintf("Conversational AI usage, %d chats (%s)", b.ChatCount, label),
			AmountCents: money.ToCents(b.ConvAICost),
		})
	}
	if b.MarkupAmount.IsPositive() {
		lines = append(lines, InvoiceLine{
			Description: fmt.Sprintf("Service fee (%s%%)", customer.MarkupPercent.String()),
			AmountCents: money.ToCents(b.MarkupAmount),
		})
	}
	return lines
}

func ledgerRecord(customer *models.Customer, period models.BillingPeriod, b models.CostBreakdown, opts models.GenerationOptions, inv *ProviderInvoice) *models.Invoice {
	now := time.Now()
	record := &models.Invoice{
		CustomerID:      customer.ID,
		CustomerName:    customer.Name,
		CustomerEmail:   customer.Email,
		PeriodStart:     period.Start,
		PeriodEnd:       period.End,
		ChatCount:       b.ChatCount,
		CallCount:       b.CallCount,
		SMSSegments:     b.SMSSegments,
		CallMinutes:     b.CallMinutes,
		SMSCost:         b.SMSCost,
		VoiceCost:       b.VoiceCost,
		ConvAICost:      b.ConvAICost,
		Subtotal:        b.Subtotal,
		MarkupAmount:    b.MarkupAmount,
		Total:           b.Total,
		Status:          models.InvoiceStatusDraft,
		UsageIncomplete: b.Incomplete,
		StripeInvoiceID: inv.ID,
		HostedURL:       inv.HostedURL,
		PDFURL:          inv.PDFURL,
	}

	due := now.AddDate(0, 0, opts.DueInDays)
	record.DueDate = &due

	if opts.Mode == models.ModeSend {
		record.Status = models.InvoiceStatusSent
		record.SentAt = &now
	}
	return record
}

func idempotencyKey(runID string, customerID int, period models.BillingPeriod) string {
	return fmt.Sprintf("invrun-%s-%d-%s-%s",
		runID, customerID, period.Start.Format("20060102"), period.End.Format("20060102"))
}

func countSelected(previews []models.InvoicePreview) int {
	n := 0
	for _, p := range previews {
		if p.Selected {
			n++
		}
	}
	return n
}

func selectedPreviews(previews []models.InvoicePreview) []models.InvoicePreview {
	var out []models.InvoicePreview
	for _, p := range previews {
		if p.Selected {
			out = append(out, p)
		}
	}
	return out
}

func snapshot(run *GenerationRun) *GenerationRun {
	copied := *run
	copied.cancel = nil
	copied.Previews = append([]models.InvoicePreview(nil), run.Previews...)
	copied.Results = append([]models.InvoiceResult(nil), run.Results...)
	return &copied
}
