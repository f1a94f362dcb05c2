package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"billing-backend/internal/config"
	"billing-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu           sync.Mutex
	customerSeq  int
	invoiceSeq   int
	created      []CreateInvoiceRequest
	ops          []string // chronological op log, e.g. "finalize:in_1"
	failCreate   map[string]error
	failFinalize map[string]error
	failSend     map[string]error

	// When set, CreateInvoice announces itself on createEntered and
	// blocks until createRelease is closed.
	createEntered chan struct{}
	createRelease chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		failCreate:   map[string]error{},
		failFinalize: map[string]error{},
		failSend:     map[string]error{},
	}
}

func (p *fakeProvider) CreateCustomer(ctx context.Context, customer *models.Customer) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customerSeq++
	id := fmt.Sprintf("cus_%d", p.customerSeq)
	p.ops = append(p.ops, "create_customer:"+id)
	return id, nil
}

func (p *fakeProvider) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*ProviderInvoice, error) {
	if p.createEntered != nil {
		p.createEntered <- struct{}{}
		<-p.createRelease
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failCreate[req.StripeCustomerID]; ok {
		return nil, err
	}
	p.invoiceSeq++
	id := fmt.Sprintf("in_%d", p.invoiceSeq)
	p.created = append(p.created, req)
	p.ops = append(p.ops, "create:"+id)
	return &ProviderInvoice{ID: id, Status: "draft"}, nil
}

func (p *fakeProvider) FinalizeInvoice(ctx context.Context, id string) (*ProviderInvoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failFinalize[id]; ok {
		return nil, err
	}
	p.ops = append(p.ops, "finalize:"+id)
	return &ProviderInvoice{ID: id, Status: "open", HostedURL: "https://pay.test/" + id, PDFURL: "https://pay.test/" + id + ".pdf"}, nil
}

func (p *fakeProvider) SendInvoice(ctx context.Context, id string) (*ProviderInvoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failSend[id]; ok {
		return nil, err
	}
	p.ops = append(p.ops, "send:"+id)
	return &ProviderInvoice{ID: id, Status: "open", HostedURL: "https://pay.test/" + id, PDFURL: "https://pay.test/" + id + ".pdf"}, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	records []*models.Invoice
	err     error
}

func (l *fakeLedger) Create(ctx context.Context, inv *models.Invoice) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	inv.ID = len(l.records) + 1
	l.records = append(l.records, inv)
	return nil
}

type fakePreviews struct {
	previews []models.InvoicePreview
	err      error
}

func (f *fakePreviews) BuildPreviews(ctx context.Context, period models.BillingPeriod) ([]models.InvoicePreview, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := append([]models.InvoicePreview(nil), f.previews...)
	return out, nil
}

func testInvoicingConfig() config.InvoicingConfig {
	return config.InvoicingConfig{Currency: "cad", DueInDays: 30, AutoCreateCustomers: true}
}

func previewFor(c *models.Customer, total string) models.InvoicePreview {
	b := breakdownWithTotal(total)
	return models.InvoicePreview{
		CustomerID:         c.ID,
		CustomerName:       c.Name,
		CustomerEmail:      c.Email,
		Breakdown:          *b,
		Selected:           b.Total.IsPositive(),
		HasBillingIdentity: c.HasBillingIdentity(),
	}
}

func waitForResults(t *testing.T, svc *GenerationService, runID string) *GenerationRun {
	t.Helper()
	require.Eventually(t, func() bool {
		run, err := svc.GetRun(runID)
		return err == nil && run.Step == models.StepResults
	}, 5*time.Second, 10*time.Millisecond)

	run, err := svc.GetRun(runID)
	require.NoError(t, err)
	return run
}

func runThroughOptions(t *testing.T, svc *GenerationService, mode models.InvoiceMode) string {
	t.Helper()
	run := svc.StartRun()

	_, err := svc.SetPeriod(context.Background(), run.ID, testPeriod())
	require.NoError(t, err)
	_, err = svc.ConfirmPreview(run.ID)
	require.NoError(t, err)
	_, err = svc.SetOptions(run.ID, models.GenerationOptions{Mode: mode, DueInDays: 30, AutoCreateCustomers: true})
	require.NoError(t, err)
	return run.ID
}

func TestGenerationSendModeFinalizesBeforeSending(t *testing.T) {
	customers := []*models.Customer{
		{ID: 1, Name: "alpha", Email: "a@x.test", StripeCustomerID: "cus_a", MarkupPercent: decimal.Zero},
		{ID: 2, Name: "bravo", Email: "b@x.test", StripeCustomerID: "cus_b", MarkupPercent: decimal.Zero},
	}
	dir := &fakeDirectory{customers: customers}
	provider := newFakeProvider()
	ledger := &fakeLedger{}
	previews := &fakePreviews{previews: []models.InvoicePreview{
		previewFor(customers[0], "100.00"),
		previewFor(customers[1], "50.00"),
	}}

	svc := NewGenerationService(previews, dir, provider, ledger, testInvoicingConfig())
	runID := runThroughOptions(t, svc, models.ModeSend)

	_, err := svc.Process(runID)
	require.NoError(t, err)
	run := waitForResults(t, svc, runID)

	require.Len(t, run.Results, 2)
	for _, r := range run.Results {
		assert.True(t, r.OK, "customer %d: %s", r.CustomerID, r.Error)
	}
	assert.Equal(t, 2, run.Summary.Succeeded)
	assert.True(t, run.Summary.TotalInvoiced.Equal(dec("150.00")))

	// Each invoice must be created, then finalized, then sent, in that
	// order, customer by customer.
	assert.Equal(t, []string{
		"create:in_1", "finalize:in_1", "send:in_1",
		"create:in_2", "finalize:in_2", "send:in_2",
	}, provider.ops)

	require.Len(t, ledger.records, 2)
	for _, rec := range ledger.records {
		assert.Equal(t, models.InvoiceStatusSent, rec.Status)
		assert.NotNil(t, rec.SentAt)
		assert.NotEmpty(t, rec.StripeInvoiceID)
	}
}

func TestGenerationDraftModeNeverFinalizesOrSends(t *testing.T) {
	customer := &models.Customer{ID: 1, Name: "alpha", StripeCustomerID: "cus_a", MarkupPercent: decimal.Zero}
	dir := &fakeDirectory{customers: []*models.Customer{customer}}
	provider := newFakeProvider()
	ledger := &fakeLedger{}
	previews := &fakePreviews{previews: []models.InvoicePreview{previewFor(customer, "10.00")}}

	svc := NewGenerationService(previews, dir, provider, ledger, testInvoicingConfig())
	runID := runThroughOptions(t, svc, models.ModeDraft)

	_, err := svc.Process(runID)
	require.NoError(t, err)
	run := waitForResults(t, svc, runID)

	require.Len(t, run.Results, 1)
	assert.True(t, run.Results[0].OK)
	assert.Equal(t, []string{"create:in_1"}, provider.ops)

	require.Len(t, ledger.records, 1)
	assert.Equal(t, models.InvoiceStatusDraft, ledger.records[0].Status)
	assert.Nil(t, ledger.records[0].SentAt)
}

func TestGenerationMissingIdentityFailsOnlyThatCustomer(t *testing.T) {
	customers := []*models.Customer{
		{ID: 1, Name: "alpha", StripeCustomerID: "cus_a", MarkupPercent: decimal.Zero},
		{ID: 2, Name: "bravo", MarkupPercent: decimal.Zero}, // no billing identity
		{ID: 3, Name: "charlie", StripeCustomerID: "cus_c", MarkupPercent: decimal.Zero},
	}
	dir := &fakeDirectory{customers: customers}
	provider := newFakeProvider()
	ledger := &fakeLedger{}
	previews := &fakePreviews{previews: []models.InvoicePreview{
		previewFor(customers[0], "10.00"),
		previewFor(customers[1], "20.00"),
		previewFor(customers[2], "30.00"),
	}}

	svc := NewGenerationService(previews, dir, provider, ledger, testInvoicingConfig())
	run := svc.StartRun()

	_, err := svc.SetPeriod(context.Background(), run.ID, testPeriod())
	require.NoError(t, err)
	_, err = svc.ConfirmPreview(run.ID)
	require.NoError(t, err)
	_, err = svc.SetOptions(run.ID, models.GenerationOptions{
		Mode: models.ModeDraft, DueInDays: 30, AutoCreateCustomers: false,
	})
	require.NoError(t, err)
	_, err = svc.Process(run.ID)
	require.NoError(t, err)

	done := waitForResults(t, svc, run.ID)
	require.Len(t, done.Results, 3)

	assert.True(t, done.Results[0].OK)
	assert.False(t, done.Results[1].OK)
	assert.Contains(t, done.Results[1].Error, "billing identity")
	assert.True(t, done.Results[2].OK, "a failure must not stop later customers")

	assert.Equal(t, 2, done.Summary.Succeeded)
	assert.Equal(t, 1, done.Summary.Failed)
	assert.True(t, done.Summary.TotalInvoiced.Equal(dec("40.00")))
	assert.Len(t, ledger.records, 2)
}

func TestGenerationAutoCreatesIdentityOnceAndBackfills(t *testing.T) {
	customer := &models.Customer{ID: 7, Name: "newco", Email: "n@x.test", MarkupPercent: decimal.Zero}
	dir := &fakeDirectory{customers: []*models.Customer{customer}}
	provider := newFakeProvider()
	ledger := &fakeLedger{}
	previews := &fakePreviews{previews: []models.InvoicePreview{previewFor(customer, "10.00")}}

	svc := NewGenerationService(previews, dir, provider, ledger, testInvoicingConfig())
	runID := runThroughOptions(t, svc, models.ModeDraft)

	_, err := svc.Process(runID)
	require.NoError(t, err)
	run := waitForResults(t, svc, runID)

	require.Len(t, run.Results, 1)
	assert.True(t, run.Results[0].OK, run.Results[0].Error)
	assert.Equal(t, "cus_1", dir.stripeIDs[7], "provider identity must be persisted")
	assert.Equal(t, "create_customer:cus_1", provider.ops[0])

	require.Len(t, provider.created, 1)
	assert.Equal(t, "cus_1", provider.created[0].StripeCustomerID)
}

func TestGenerationFinalizeFailureIsRecordedPerCustomer(t *testing.T) {
	customers := []*models.Customer{
		{ID: 1, Name: "alpha", StripeCustomerID: "cus_a", MarkupPercent: decimal.Zero},
		{ID: 2, Name: "bravo", StripeCustomerID: "cus_b", MarkupPercent: decimal.Zero},
	}
	dir := &fakeDirectory{customers: customers}
	provider := newFakeProvider()
	provider.failFinalize["in_1"] = errors.New("invoice locked")
	ledger := &fakeLedger{}
	previews := &fakePreviews{previews: []models.InvoicePreview{
		previewFor(customers[0], "10.00"),
		previewFor(customers[1], "20.00"),
	}}

	svc := NewGenerationService(previews, dir, provider, ledger, testInvoicingConfig())
	runID := runThroughOptions(t, svc, models.ModeFinalize)

	_, err := svc.Process(runID)
	require.NoError(t, err)
	run := waitForResults(t, svc, runID)

	require.Len(t, run.Results, 2)
	assert.False(t, run.Results[0].OK)
	assert.Contains(t, run.Results[0].Error, "invoice locked")
	assert.Contains(t, run.Results[0].Error, "in_1", "the error must name the created invoice")
	assert.True(t, run.Results[1].OK, "one failed finalize must not stop the batch")

	require.Len(t, ledger.records, 1)
	assert.Equal(t, 2, ledger.records[0].CustomerID)
}

func TestGenerationCancelStopsBetweenCustomers(t *testing.T) {
	customers := []*models.Customer{
		{ID: 1, Name: "alpha", StripeCustomerID: "cus_a", MarkupPercent: decimal.Zero},
		{ID: 2, Name: "bravo", StripeCustomerID: "cus_b", MarkupPercent: decimal.Zero},
		{ID: 3, Name: "charlie", StripeCustomerID: "cus_c", MarkupPercent: decimal.Zero},
	}
	dir := &fakeDirectory{customers: customers}
	provider := newFakeProvider()
	provider.createEntered = make(chan struct{})
	provider.createRelease = make(chan struct{})
	ledger := &fakeLedger{}
	previews := &fakePreviews{previews: []models.InvoicePreview{
		previewFor(customers[0], "10.00"),
		previewFor(customers[1], "20.00"),
		previewFor(customers[2], "30.00"),
	}}

	svc := NewGenerationService(previews, dir, provider, ledger, testInvoicingConfig())
	runID := runThroughOptions(t, svc, models.ModeDraft)

	_, err := svc.Process(runID)
	require.NoError(t, err)

	// Cancel while the first customer's invoice is mid-flight, then let it
	// finish. The first customer stands; the rest are never attempted.
	<-provider.createEntered
	require.NoError(t, svc.Cancel(runID))
	close(provider.createRelease)

	run := waitForResults(t, svc, runID)

	require.Len(t, run.Results, 3, "every selected customer gets a result")
	assert.True(t, run.Results[0].OK)
	assert.False(t, run.Results[1].OK)
	assert.Equal(t, "run cancelled", run.Results[1].Error)
	assert.False(t, run.Results[2].OK)
	assert.Equal(t, "run cancelled", run.Results[2].Error)

	assert.Equal(t, 1, run.Summary.Succeeded)
	assert.Equal(t, 2, run.Summary.Failed)
	assert.Len(t, ledger.records, 1, "work already sent to the provider stands")
	assert.Equal(t, []string{"create:in_1"}, provider.ops)
}

func TestGenerationSendFailureIsRecordedPerCustomer(t *testing.T) {
	customer := &models.Customer{ID: 1, Name: "alpha", StripeCustomerID: "cus_a", MarkupPercent: decimal.Zero}
	dir := &fakeDirectory{customers: []*models.Customer{customer}}
	provider := newFakeProvider()
	provider.failSend["in_1"] = errors.New("smtp exploded")
	ledger := &fakeLedger{}
	previews := &fakePreviews{previews: []models.InvoicePreview{previewFor(customer, "10.00")}}

	svc := NewGenerationService(previews, dir, provider, ledger, testInvoicingConfig())
	runID := runThroughOptions(t, svc, models.ModeSend)

	_, err := svc.Process(runID)
	require.NoError(t, err)
	run := waitForResults(t, svc, runID)

	require.Len(t, run.Results, 1)
	assert.False(t, run.Results[0].OK)
	assert.Contains(t, run.Results[0].Error, "smtp exploded")
	assert.Equal(t, 1, run.Summary.Failed)
	assert.Empty(t, ledger.records, "a failed customer leaves no ledger record")
}

func TestGenerationLineItemsUseIntegerCents(t *testing.T) {
	customer := &models.Customer{ID: 1, Name: "alpha", StripeCustomerID: "cus_a", MarkupPercent: dec("20")}
	dir := &fakeDirectory{customers: []*models.Customer{customer}}
	provider := newFakeProvider()
	ledger := &fakeLedger{}

	b := models.CostBreakdown{
		SMSSegments: 10, SMSCost: dec("19.995"),
		VoiceCost: decimal.Zero, ConvAICost: decimal.Zero,
		CallMinutes: decimal.Zero,
		Subtotal:    dec("19.995"), MarkupAmount: dec("4.00"), Total: dec("23.995"),
	}
	previews := &fakePreviews{previews: []models.InvoicePreview{{
		CustomerID: 1, CustomerName: "alpha", Breakdown: b, Selected: true, HasBillingIdentity: true,
	}}}

	svc := NewGenerationService(previews, dir, provider, ledger, testInvoicingConfig())
	runID := runThroughOptions(t, svc, models.ModeDraft)

	_, err := svc.Process(runID)
	require.NoError(t, err)
	waitForResults(t, svc, runID)

	require.Len(t, provider.created, 1)
	req := provider.created[0]
	require.Len(t, req.Lines, 2)
	assert.Equal(t, int64(2000), req.Lines[0].AmountCents, "19.995 rounds half-up to 2000 cents")
	assert.Equal(t, int64(400), req.Lines[1].AmountCents)
	assert.NotEmpty(t, req.IdempotencyKey)
}

func TestWizardBackNavigation(t *testing.T) {
	customer := &models.Customer{ID: 1, Name: "alpha", StripeCustomerID: "cus_a", MarkupPercent: decimal.Zero}
	dir := &fakeDirectory{customers: []*models.Customer{customer}}
	previews := &fakePreviews{previews: []models.InvoicePreview{previewFor(customer, "10.00")}}
	svc := NewGenerationService(previews, dir, newFakeProvider(), &fakeLedger{}, testInvoicingConfig())

	run := svc.StartRun()
	assert.Equal(t, models.StepDateRange, run.Step)

	// Back from the first step is not allowed.
	_, err := svc.Back(run.ID)
	assert.ErrorIs(t, err, ErrBackNotAllowed)

	_, err = svc.SetPeriod(context.Background(), run.ID, testPeriod())
	require.NoError(t, err)

	// preview -> date_range discards the previews.
	stepped, err := svc.Back(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepDateRange, stepped.Step)
	assert.Empty(t, stepped.Previews)

	_, err = svc.SetPeriod(context.Background(), run.ID, testPeriod())
	require.NoError(t, err)
	_, err = svc.ConfirmPreview(run.ID)
	require.NoError(t, err)

	// options -> preview keeps the previews.
	stepped, err = svc.Back(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepPreview, stepped.Step)
	assert.Len(t, stepped.Previews, 1)
}

func TestWizardStepGuards(t *testing.T) {
	customer := &models.Customer{ID: 1, Name: "alpha", StripeCustomerID: "cus_a", MarkupPercent: decimal.Zero}
	dir := &fakeDirectory{customers: []*models.Customer{customer}}
	previews := &fakePreviews{previews: []models.InvoicePreview{previewFor(customer, "10.00")}}
	svc := NewGenerationService(previews, dir, newFakeProvider(), &fakeLedger{}, testInvoicingConfig())

	run := svc.StartRun()

	// Cannot process from the date range step.
	_, err := svc.Process(run.ID)
	assert.ErrorIs(t, err, ErrWrongStep)

	_, err = svc.SetPeriod(context.Background(), run.ID, testPeriod())
	require.NoError(t, err)

	// Cannot set the period twice without going back.
	_, err = svc.SetPeriod(context.Background(), run.ID, testPeriod())
	assert.ErrorIs(t, err, ErrWrongStep)

	// Deselect everyone; confirming the preview must fail.
	_, err = svc.SetSelection(run.ID, nil)
	require.NoError(t, err)
	_, err = svc.ConfirmPreview(run.ID)
	assert.ErrorIs(t, err, ErrNothingSelect)

	_, err = svc.GetRun("no-such-run")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
