package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

type tokenResponse struct {
	TokenType        string    `json:"tokenType"`
	SessionID        string    `json:"sessionId"`
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func newTokenResponse(p authcore.TokenPair) *tokenResponse {
	return &tokenResponse{
		TokenType:        "Bearer",
		SessionID:        p.SessionID,
		AccessToken:      p.AccessToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshToken:     p.RefreshToken,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

type loginResponse struct {
	Tokens             *tokenResponse `json:"tokens,omitempty"`
	RequiresTwoFactor  bool           `json:"requiresTwoFactor,omitempty"`
	ChallengeID        string         `json:"challengeId,omitempty"`
	ChallengeExpiresAt *time.Time     `json:"challengeExpiresAt,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type credentialsRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	CaptchaReceipt string `json:"captchaReceipt"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type challengeRequest struct {
	ChallengeID    string `json:"challengeId"`
	OTP            string `json:"otp"`
	Code           string `json:"code"`
	CaptchaReceipt string `json:"captchaReceipt"`
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.engine.Register(r.Context(), authcore.RegisterRequest{
		Email:          req.Email,
		Password:       req.Password,
		CaptchaReceipt: req.CaptchaReceipt,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: res.Message})
}

func (a *api) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.engine.VerifyEmail(r.Context(), req.Token); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.engine.Login(r.Context(), authcore.LoginRequest{
		Email:          req.Email,
		Password:       req.Password,
		CaptchaReceipt: req.CaptchaReceipt,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if res.RequiresTwoFactor {
		expires := res.ChallengeExpiresAt
		writeJSON(w, http.StatusOK, loginResponse{
			RequiresTwoFactor:  true,
			ChallengeID:        res.ChallengeID,
			ChallengeExpiresAt: &expires,
		})
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Tokens: newTokenResponse(*res.Tokens)})
}

func (a *api) verifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.engine.VerifyTwoFactor(r.Context(), authcore.VerifyTwoFactorRequest{
		ChallengeID:    req.ChallengeID,
		OTP:            req.OTP,
		CaptchaReceipt: req.CaptchaReceipt,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Tokens: newTokenResponse(*res.Tokens)})
}

func (a *api) recoveryLogin(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.engine.RecoveryLogin(r.Context(), authcore.RecoveryLoginRequest{
		ChallengeID:    req.ChallengeID,
		Code:           req.Code,
		CaptchaReceipt: req.CaptchaReceipt,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Tokens        *tokenResponse `json:"tokens"`
		RecoveryCodes []string       `json:"recoveryCodes"`
	}{newTokenResponse(res.Tokens), res.RecoveryCodes})
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	pair, err := a.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.engine.Logout(r.Context(), req.RefreshToken); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.engine.ForgotPassword(r.Context(), req.Email); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{
		Message: "If the address belongs to an account, a reset link is on its way.",
	})
}

func (a *api) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.engine.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) jwks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, a.engine.JWKS())
}

// userID is only called behind RequireStrict, which always stores claims.
func userID(r *http.Request) string {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	return claims.UserID()
}

func (a *api) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, struct {
		UserID    string    `json:"userId"`
		SessionID string    `json:"sessionId"`
		ExpiresAt time.Time `json:"expiresAt"`
	}{claims.UserID(), claims.SID, claims.ExpiresAt.Time})
}

func (a *api) logoutAll(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.LogoutAll(r.Context(), userID(r)); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) changePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.engine.ChangePassword(r.Context(), userID(r), req.OldPassword, req.NewPassword); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionResponse struct {
	ID        string    `json:"id"`
	Current   bool      `json:"current"`
	UserAgent string    `json:"userAgent"`
	Network   string    `json:"network"`
	CreatedAt time.Time `json:"createdAt"`
	RotatedAt time.Time `json:"rotatedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (a *api) listSessions(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	ctx := r.Context()
	if receipt := r.Header.Get(captchaHeader); receipt != "" {
		ctx = authcore.WithCaptchaReceipt(ctx, receipt)
	}
	list, err := a.engine.ListSessions(ctx, claims.UserID())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, sessionResponse{
			ID:        s.ID,
			Current:   s.ID == claims.SID,
			UserAgent: s.UserAgent,
			Network:   s.Network,
			CreatedAt: s.CreatedAt,
			RotatedAt: s.RotatedAt,
			ExpiresAt: s.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Sessions []sessionResponse `json:"sessions"`
	}{out})
}

func (a *api) revokeSession(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.RevokeSession(r.Context(), userID(r), chi.URLParam(r, "sessionID")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) enableTwoFactorInit(w http.ResponseWriter, r *http.Request) {
	setup, err := a.engine.EnableTwoFactorInit(r.Context(), userID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ChallengeID string    `json:"challengeId"`
		Secret      string    `json:"secret"`
		URL         string    `json:"otpauthUrl"`
		QRCodePNG   []byte    `json:"qrCodePng,omitempty"`
		ExpiresAt   time.Time `json:"expiresAt"`
	}{setup.ChallengeID, setup.Secret, setup.URL, setup.QRCodePNG, setup.ExpiresAt})
}

type recoveryCodesResponse struct {
	RecoveryCodes []string `json:"recoveryCodes"`
}

func (a *api) enableTwoFactorComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChallengeID string `json:"challengeId"`
		OTP         string `json:"otp"`
	}
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	codes, err := a.engine.EnableTwoFactorComplete(r.Context(), userID(r), req.ChallengeID, req.OTP)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recoveryCodesResponse{RecoveryCodes: codes})
}

func (a *api) disableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
		OTP      string `json:"otp"`
	}
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.engine.DisableTwoFactor(r.Context(), userID(r), req.Password, req.OTP); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) recoveryCodesRemaining(w http.ResponseWriter, r *http.Request) {
	n, err := a.engine.RecoveryCodesRemaining(r.Context(), userID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Remaining int `json:"remaining"`
	}{n})
}

func (a *api) regenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OTP string `json:"otp"`
	}
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	codes, err := a.engine.RegenerateRecoveryCodes(r.Context(), userID(r), req.OTP)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recoveryCodesResponse{RecoveryCodes: codes})
}
