package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"billing-backend/internal/auth"
	"billing-backend/internal/middleware"
	"billing-backend/internal/models"
	"billing-backend/internal/services"
	"billing-backend/pkg/utils"
)

type TOTPHandler struct {
	TOTP       *services.TOTPService
	Users      *services.UserService
	JWTManager *auth.JWTManager
}

func NewTOTPHandler(totp *services.TOTPService, users *services.UserService, jwtManager *auth.JWTManager) *TOTPHandler {
	return &TOTPHandler{TOTP: totp, Users: users, JWTManager: jwtManager}
}

// Setup starts 2FA enrollment for the authenticated user and returns the
// secret plus a QR code. Nothing is enforced until Enable succeeds.
func (h *TOTPHandler) Setup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		utils.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := h.Users.GetUser(r.Context(), userID)
	if err != nil {
		utils.Error(w, http.StatusNotFound, "User not found")
		return
	}
	if user.TOTPEnabled {
		utils.Error(w, http.StatusConflict, "2FA is already enabled")
		return
	}

	resp, err := h.TOTP.GenerateSetup(r.Context(), user)
	if err != nil {
		utils.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.JSON(w, http.StatusOK, resp)
}

// Enable verifies the first code from the authenticator app, switches 2FA
// on, and returns the one-time backup codes.
func (h *TOTPHandler) Enable(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		utils.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req models.TOTPEnableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	codes, err := h.TOTP.VerifyAndEnable(r.Context(), userID, req.Code, getIPAddress(r))
	if err != nil {
		h.writeTOTPError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, codes)
}

// VerifyLogin is step two of a 2FA login. It takes the temp token from
// step one and a TOTP or backup code, and returns the session token.
func (h *TOTPHandler) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req models.TOTPVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	claims, err := h.JWTManager.ValidateToken(req.TempToken)
	if err != nil {
		utils.Error(w, http.StatusUnauthorized, "Invalid or expired temp token")
		return
	}
	if claims.Scope != auth.ScopeTOTP {
		utils.Error(w, http.StatusUnauthorized, "Invalid or expired temp token")
		return
	}

	if _, err := h.TOTP.Verify(r.Context(), claims.UserID, req.Code, getIPAddress(r)); err != nil {
		h.writeTOTPError(w, err)
		return
	}

	resp, err := h.Users.CompleteLogin(r.Context(), claims.UserID)
	if err != nil {
		utils.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.JSON(w, http.StatusOK, resp)
}

// Disable turns 2FA off. Requires the password and a current code.
func (h *TOTPHandler) Disable(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		utils.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req models.TOTPDisableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.TOTP.Disable(r.Context(), userID, req.Password, req.Code); err != nil {
		h.writeTOTPError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, map[string]string{"message": "2FA disabled"})
}

// RegenerateBackupCodes invalidates all old backup codes and issues a
// fresh set.
func (h *TOTPHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		utils.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req models.RegenerateBackupCodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	codes, err := h.TOTP.RegenerateBackupCodes(r.Context(), userID, req.Password)
	if err != nil {
		h.writeTOTPError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, codes)
}

// Status reports whether 2FA is enabled for the authenticated user.
func (h *TOTPHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		utils.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	status, err := h.TOTP.GetStatus(r.Context(), userID)
	if err != nil {
		utils.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.JSON(w, http.StatusOK, status)
}

func (h *TOTPHandler) writeTOTPError(w http.ResponseWriter, err error) {
	var totpErr *services.TOTPError
	if !errors.As(err, &totpErr) {
		utils.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch totpErr {
	case services.ErrTooManyAttempts:
		utils.Error(w, http.StatusTooManyRequests, totpErr.Message)
	case services.ErrInvalidTOTPCode, services.ErrInvalidPassword:
		utils.Error(w, http.StatusUnauthorized, totpErr.Message)
	default:
		utils.Error(w, http.StatusBadRequest, totpErr.Message)
	}
}

// getIPAddress extracts the client IP, preferring proxy headers.
func getIPAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
