package http

import (
	"billing-backend/internal/handlers"
	"billing-backend/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(
	authHandler *handlers.AuthHandler,
	totpHandler *handlers.TOTPHandler,
	userHandler *handlers.UserHandler,
	customerHandler *handlers.CustomerHandler,
	invoiceHandler *handlers.InvoiceHandler,
	generationHandler *handlers.GenerationHandler,
	settingsHandler *handlers.SettingsHandler,
	healthHandler *handlers.HealthHandler,
	authMiddleware *middleware.AuthMiddleware,
) *mux.Router {
	r := mux.NewRouter()

	// Public routes - Authentication
	r.HandleFunc("/auth/signup", authHandler.Signup).Methods("POST")
	r.HandleFunc("/auth/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/auth/totp/verify", totpHandler.VerifyLogin).Methods("POST")

	// Authenticated profile route
	profileAPI := r.PathPrefix("/auth/me").Subrouter()
	profileAPI.Use(authMiddleware.Authenticate)
	profileAPI.HandleFunc("", authHandler.Me).Methods("GET")

	// Protected API routes - Customers
	customersAPI := r.PathPrefix("/api/customers").Subrouter()
	customersAPI.Use(authMiddleware.Authenticate)
	customersAPI.HandleFunc("", customerHandler.ListCustomers).Methods("GET")
	customersAPI.HandleFunc("", customerHandler.CreateCustomer).Methods("POST")
	customersAPI.HandleFunc("/{id}", customerHandler.GetCustomer).Methods("GET")
	customersAPI.HandleFunc("/{id}", customerHandler.UpdateCustomer).Methods("PUT")
	customersAPI.HandleFunc("/{id}", customerHandler.DeleteCustomer).Methods("DELETE")

	// Protected API routes - Invoices
	invoicesAPI := r.PathPrefix("/api/invoices").Subrouter()
	invoicesAPI.Use(authMiddleware.Authenticate)
	invoicesAPI.HandleFunc("", invoiceHandler.ListInvoices).Methods("GET")
	invoicesAPI.HandleFunc("/stats", invoiceHandler.GetStats).Methods("GET")
	invoicesAPI.HandleFunc("/export", invoiceHandler.ExportCSV).Methods("GET")
	invoicesAPI.HandleFunc("/{id}", invoiceHandler.GetInvoice).Methods("GET")
	invoicesAPI.HandleFunc("/{id}/status", invoiceHandler.UpdateStatus).Methods("PATCH")

	// Protected API routes - Invoice generation wizard
	runsAPI := r.PathPrefix("/api/invoice-runs").Subrouter()
	runsAPI.Use(authMiddleware.Authenticate)
	runsAPI.HandleFunc("", generationHandler.StartRun).Methods("POST")
	runsAPI.HandleFunc("/{id}", generationHandler.GetRun).Methods("GET")
	runsAPI.HandleFunc("/{id}/period", generationHandler.SetPeriod).Methods("POST")
	runsAPI.HandleFunc("/{id}/selection", generationHandler.SetSelection).Methods("POST")
	runsAPI.HandleFunc("/{id}/confirm-preview", generationHandler.ConfirmPreview).Methods("POST")
	runsAPI.HandleFunc("/{id}/options", generationHandler.SetOptions).Methods("POST")
	runsAPI.HandleFunc("/{id}/back", generationHandler.Back).Methods("POST")
	runsAPI.HandleFunc("/{id}/process", generationHandler.Process).Methods("POST")
	runsAPI.HandleFunc("/{id}/cancel", generationHandler.CancelRun).Methods("POST")
	runsAPI.HandleFunc("/{id}/summary.pdf", generationHandler.SummaryPDF).Methods("GET")
	runsAPI.HandleFunc("/{id}/progress", generationHandler.StreamProgress).Methods("GET")

	// Protected API routes - 2FA self-service
	totpAPI := r.PathPrefix("/api/totp").Subrouter()
	totpAPI.Use(authMiddleware.Authenticate)
	totpAPI.HandleFunc("/setup", totpHandler.Setup).Methods("POST")
	totpAPI.HandleFunc("/enable", totpHandler.Enable).Methods("POST")
	totpAPI.HandleFunc("/disable", totpHandler.Disable).Methods("POST")
	totpAPI.HandleFunc("/backup-codes", totpHandler.RegenerateBackupCodes).Methods("POST")
	totpAPI.HandleFunc("/status", totpHandler.Status).Methods("GET")

	// Protected API routes - Users (admin only)
	usersAPI := r.PathPrefix("/api/users").Subrouter()
	usersAPI.Use(authMiddleware.RequireAdmin)
	usersAPI.HandleFunc("", userHandler.ListUsers).Methods("GET")
	usersAPI.HandleFunc("", userHandler.CreateUser).Methods("POST")
	usersAPI.HandleFunc("/{id}", userHandler.GetUser).Methods("GET")
	usersAPI.HandleFunc("/{id}", userHandler.UpdateUser).Methods("PUT")
	usersAPI.HandleFunc("/{id}", userHandler.DeleteUser).Methods("DELETE")
	usersAPI.HandleFunc("/{id}/toggle-active", userHandler.ToggleActive).Methods("PATCH")

	// Protected API routes - System Settings (admin only)
	settingsAPI := r.PathPrefix("/api/settings").Subrouter()
	settingsAPI.Use(authMiddleware.RequireAdmin)
	settingsAPI.HandleFunc("", settingsHandler.ListSettings).Methods("GET")
	settingsAPI.HandleFunc("/{key}", settingsHandler.GetSetting).Methods("GET")
	settingsAPI.HandleFunc("/{key}", settingsHandler.UpdateSetting).Methods("PUT")

	// Health endpoints (no auth required - for Kubernetes probes)
	r.HandleFunc("/health", healthHandler.BasicHealth).Methods("GET")
	r.HandleFunc("/health/ready", healthHandler.ReadinessHealth).Methods("GET")
	r.HandleFunc("/health/detailed", healthHandler.DetailedHealth).Methods("GET")

	// Metrics endpoint (Prometheus format)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
