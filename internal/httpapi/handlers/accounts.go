package handlers

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 8

var industries = map[string]bool{"retail": true, "finance": true}

type linkPurpose string

const (
	linkPasswordReset linkPurpose = "password_reset"
	linkVerifyEmail   linkPurpose = "verify_email"
)

// accountLink is a single-use token mailed as part of a uid/token link.
type accountLink struct {
	userID  uint64
	purpose linkPurpose
	expires time.Time
}

type registerReq struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	CompanyName     string `json:"company_name"`
	Industry        string `json:"industry"`
	Plan            string `json:"plan"`
	Domain          string `json:"domain"`
	Accent          string `json:"accent"`
	WelcomeMessage  string `json:"welcome_message"`
	PrimaryColor    string `json:"primary_color"`
}

type emailReq struct {
	Email string `json:"email"`
}

type linkReq struct {
	UID         string `json:"uid"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// fieldErrors collects validation messages per field, in the shape the real
// backend returns them.
type fieldErrors map[string][]string

func (f fieldErrors) add(field, msg string) { f[field] = append(f[field], msg) }

func (f fieldErrors) write(c *gin.Context) bool {
	if len(f) == 0 {
		return false
	}
	c.JSON(http.StatusBadRequest, f)
	return true
}

func validPassword(errs fieldErrors, field, pw string) {
	switch {
	case pw == "":
		errs.add(field, "This field is required.")
	case len(pw) < minPasswordLen:
		errs.add(field, "Ensure this field has at least 8 characters.")
	}
}

func validEmail(errs fieldErrors, email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		errs.add("email", "This field is required.")
		return ""
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		errs.add("email", "Enter a valid email address.")
		return ""
	}
	return email
}

// RegisterOnboard creates an unverified owner and their tenant, then mails a
// verification link.
func (h *Handler) RegisterOnboard(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	errs := fieldErrors{}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		errs.add("username", "This field is required.")
	}
	email := validEmail(errs, req.Email)
	validPassword(errs, "password", req.Password)
	validPassword(errs, "password_confirm", req.PasswordConfirm)
	if req.Password != "" && req.PasswordConfirm != "" && req.Password != req.PasswordConfirm {
		errs.add("password_confirm", "Passwords do not match.")
	}
	company := strings.TrimSpace(req.CompanyName)
	switch {
	case company == "":
		errs.add("company_name", "This field is required.")
	case schemaName(company) == "":
		errs.add("company_name", "Enter a valid company name.")
	}
	if !industries[req.Industry] {
		errs.add("industry", strconv.Quote(req.Industry)+" is not a valid choice.")
	}
	if errs.write(c) {
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		detail(c, http.StatusInternalServerError, "failed to hash password")
		return
	}

	h.mu.Lock()
	u, err := h.addUserLocked(&User{
		Username:     username,
		Email:        email,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		PasswordHash: hash,
	})
	if err != nil {
		h.mu.Unlock()
		errs.add("username", "A user with that username already exists.")
		errs.write(c)
		return
	}
	t, err := h.addTenantLocked(u, company, schemaName(company))
	if err != nil {
		delete(h.users, u.Username)
		h.mu.Unlock()
		errs.add("company_name", "A tenant with this name already exists.")
		errs.write(c)
		return
	}
	if req.Accent != "" {
		t.WidgetAccent = req.Accent
	}
	if req.WelcomeMessage != "" {
		t.WidgetWelcomeMessage = req.WelcomeMessage
	}
	if req.PrimaryColor != "" {
		t.WidgetPrimaryColor = req.PrimaryColor
	}
	t.Industry = req.Industry
	if d := normalizeDomain(req.Domain); d != "" {
		t.Domains = append(t.Domains, Domain{Domain: d, IsPrimary: true})
	}
	body := userJSON(u)
	h.mu.Unlock()

	h.mailLink(c, u, linkVerifyEmail)
	c.JSON(http.StatusCreated, body)
}

// RequestPasswordReset mails a reset link when the address is known. The answer
// is the same either way.
func (h *Handler) RequestPasswordReset(c *gin.Context) {
	h.requestLink(c, linkPasswordReset, "If an account exists for that email, a reset link has been sent.")
}

func (h *Handler) RequestEmailVerification(c *gin.Context) {
	h.requestLink(c, linkVerifyEmail, "If an account exists for that email, a verification link has been sent.")
}

func (h *Handler) requestLink(c *gin.Context, purpose linkPurpose, reply string) {
	var req emailReq
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	errs := fieldErrors{}
	email := validEmail(errs, req.Email)
	if errs.write(c) {
		return
	}

	h.mu.Lock()
	u := h.userByEmail(email)
	h.mu.Unlock()
	if u != nil {
		h.mailLink(c, u, purpose)
	}
	detail(c, http.StatusOK, reply)
}

// ConfirmPasswordReset redeems a reset link. Outstanding refresh tokens of the
// user stop working.
func (h *Handler) ConfirmPasswordReset(c *gin.Context) {
	var req linkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	errs := fieldErrors{}
	validPassword(errs, "new_password", req.NewPassword)
	if errs.write(c) {
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		detail(c, http.StatusInternalServerError, "failed to hash password")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	u, ok := h.redeemLocked(c, req, linkPasswordReset)
	if !ok {
		return
	}
	u.PasswordHash = hash
	for tok, uid := range h.refresh {
		if uid == u.ID {
			delete(h.refresh, tok)
		}
	}
	detail(c, http.StatusOK, "Password has been reset.")
}

func (h *Handler) ConfirmEmail(c *gin.Context) {
	var req linkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	u, ok := h.redeemLocked(c, req, linkVerifyEmail)
	if !ok {
		return
	}
	u.EmailVerified = true
	detail(c, http.StatusOK, "Email verified.")
}

// redeemLocked checks and consumes a link, writing the 400 itself on failure.
func (h *Handler) redeemLocked(c *gin.Context, req linkReq, purpose linkPurpose) (*User, bool) {
	errs := fieldErrors{}
	u := h.userByUID(req.UID)
	if u == nil {
		errs.add("uid", "Invalid user.")
		errs.write(c)
		return nil, false
	}
	link, ok := h.links[req.Token]
	if !ok || link.userID != u.ID || link.purpose != purpose || !h.now().Before(link.expires) {
		errs.add("token", "Invalid or expired token.")
		errs.write(c)
		return nil, false
	}
	delete(h.links, req.Token)
	return u, true
}

func (h *Handler) issueLinkLocked(userID uint64, purpose linkPurpose) string {
	tok := uuid.NewString()
	h.links[tok] = accountLink{userID: userID, purpose: purpose, expires: h.now().Add(h.cfg.LinkTTL)}
	return tok
}

func (h *Handler) mailLink(c *gin.Context, u *User, purpose linkPurpose) {
	h.mu.Lock()
	tok := h.issueLinkLocked(u.ID, purpose)
	h.mu.Unlock()

	page, subject, text := "/verify-email", "Verify your ShoshChat email", "Confirm your email by visiting: "
	if purpose == linkPasswordReset {
		page, subject, text = "/reset-password", "Reset your ShoshChat password", "Use this link to reset your password: "
	}
	q := url.Values{"uid": {encodeUID(u.ID)}, "token": {tok}}
	link := requestOrigin(c) + page + "?" + q.Encode()

	if u.Email == "" {
		return
	}
	// delivery failures never change the response
	if err := h.mailer.Send(context.WithoutCancel(c.Request.Context()), u.Email, subject, text+link); err != nil {
		slog.Warn("unable to send email", "to", u.Email, "subject", subject, "error", err)
	}
}

func (h *Handler) userByEmail(email string) *User {
	for _, u := range h.users {
		if strings.EqualFold(u.Email, email) {
			return u
		}
	}
	return nil
}

func (h *Handler) userByUID(uid string) *User {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(uid))
	if err != nil {
		return nil
	}
	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return nil
	}
	return h.userByID(id)
}

// schemaName lowercases name and joins its words with underscores.
func schemaName(name string) string {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return strings.Join(words, "_")
}

func encodeUID(id uint64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatUint(id, 10)))
}

func requestOrigin(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if p := c.GetHeader("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + c.Request.Host
}
