// Package auth signs the browser session into the target application
// and recognizes when that session has expired mid-crawl.
package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// Default settle bounds for the post-submit redirect.
const (
	defaultSettleIdle = 2 * time.Second
	defaultSettleMax  = 15 * time.Second
)

// Handler performs form logins through a Driver. Fields are located by
// instruction, not by hardcoded selectors, so unusual login forms still
// work.
type Handler struct {
	logger *zap.Logger
}

// New creates a Handler.
func New(logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logger: logger}
}

// Login navigates to the login page, fills the credential form, submits
// it, and verifies the app navigated away from the login page.
func (h *Handler) Login(ctx context.Context, d docs.Driver, loginURL string, creds docs.Credentials) error {
	if creds.Username == "" || creds.Password == "" {
		return fmt.Errorf("login: missing credentials")
	}

	if err := d.Navigate(ctx, loginURL); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := d.Settle(ctx, defaultSettleIdle, defaultSettleMax); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	steps := []string{
		fmt.Sprintf("type %q into the username or email field", creds.Username),
		fmt.Sprintf("type %q into the password field", creds.Password),
		"click the submit button to sign in",
	}
	for _, instruction := range steps {
		if _, err := d.Drive(ctx, instruction); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	if err := d.Settle(ctx, defaultSettleIdle, defaultSettleMax); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	current, err := d.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if SessionExpired(current, loginURL) {
		return fmt.Errorf("login: still on login page %s after submit, credentials likely rejected", current)
	}

	h.logger.Info("login succeeded", zap.String("landed_on", current))
	return nil
}

// SessionExpired reports whether the browser has been bounced back to a
// login page: either the configured login URL's path, or a path that
// looks like a sign-in route.
func SessionExpired(currentURL, loginURL string) bool {
	current, err := url.Parse(currentURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(strings.TrimSuffix(current.Path, "/"))

	if loginURL != "" {
		if login, err := url.Parse(loginURL); err == nil {
			loginPath := strings.ToLower(strings.TrimSuffix(login.Path, "/"))
			if loginPath != "" && path == loginPath {
				return true
			}
		}
	}

	for _, marker := range []string{"/login", "/signin", "/sign-in", "/auth/login", "/session/new"} {
		if path == marker || strings.HasSuffix(path, marker) {
			return true
		}
	}
	return false
}
