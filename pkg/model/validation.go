package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
)

// ValidateRecipientDomains validates that all recipient email addresses match the allowed domain whitelist.
// If allowedDomains is empty, all domains are allowed.
func ValidateRecipientDomains(recipients Recipients, allowedDomains []string) error {
	if len(allowedDomains) == 0 {
		return nil
	}

	for _, email := range recipients.All() {
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}

		domain := extractDomain(email)
		if domain == "" {
			return fmt.Errorf("invalid email address format: %s", email)
		}

		if !isDomainAllowed(domain, allowedDomains) {
			return fmt.Errorf("email domain '%s' is not allowed (email: %s). Allowed domains: %v", domain, email, allowedDomains)
		}
	}

	return nil
}

// extractDomain extracts the domain part from an email address
func extractDomain(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(parts[1]))
}

// isDomainAllowed checks if a domain matches any entry in the allowed domains list
// Supports exact matches and wildcard patterns (e.g., "*.example.com")
func isDomainAllowed(domain string, allowedDomains []string) bool {
	domain = strings.ToLower(domain)

	for _, allowed := range allowedDomains {
		allowed = strings.ToLower(strings.TrimSpace(allowed))

		if domain == allowed {
			return true
		}

		if strings.HasPrefix(allowed, "*.") {
			baseDomain := allowed[2:]
			if domain == baseDomain || strings.HasSuffix(domain, "."+baseDomain) {
				return true
			}
		}
	}

	return false
}

// ValidateCronExpression validates a cron expression format.
// Returns an error if the expression cannot be parsed.
func ValidateCronExpression(cronExpr string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}

	_, err := cronexpr.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression '%s': %v", cronExpr, err)
	}

	return nil
}

// ValidateTarget checks a single capture target against the limits.
func ValidateTarget(t Target, limits Limits) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("target name cannot be empty")
	}

	u, err := url.Parse(t.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("target '%s': url must be an absolute http(s) URL, got '%s'", t.Name, t.URL)
	}

	if err := ValidateCronExpression(t.CronExpr); err != nil {
		return fmt.Errorf("target '%s': %w", t.Name, err)
	}

	if t.Timezone != "" {
		if _, err := time.LoadLocation(t.Timezone); err != nil {
			return fmt.Errorf("target '%s': unknown timezone '%s'", t.Name, t.Timezone)
		}
	}

	if limits.MaxRecipients > 0 && len(t.Recipients.All()) > limits.MaxRecipients {
		return fmt.Errorf("target '%s': %d recipients exceeds the limit of %d", t.Name, len(t.Recipients.All()), limits.MaxRecipients)
	}

	if err := ValidateRecipientDomains(t.Recipients, limits.AllowedDomains); err != nil {
		return fmt.Errorf("target '%s': %w", t.Name, err)
	}

	return nil
}

// ValidateSettings checks the full configuration, including the readiness
// tuning it produces.
func ValidateSettings(s *Settings) error {
	switch s.Renderer.Backend {
	case "", "chromium", "playwright", "chromedp":
	default:
		return fmt.Errorf("unknown renderer backend '%s'", s.Renderer.Backend)
	}

	if s.Renderer.ViewportWidth <= 0 || s.Renderer.ViewportHeight <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", s.Renderer.ViewportWidth, s.Renderer.ViewportHeight)
	}

	if s.Output.Timezone != "" {
		if _, err := time.LoadLocation(s.Output.Timezone); err != nil {
			return fmt.Errorf("unknown output timezone '%s'", s.Output.Timezone)
		}
	}

	if s.Output.MinBytes < 0 {
		return fmt.Errorf("output min_bytes cannot be negative")
	}

	if s.Limits.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts cannot be negative")
	}

	if err := s.Readiness.EngineConfig().Validate(); err != nil {
		return fmt.Errorf("readiness: %w", err)
	}

	seen := make(map[string]bool, len(s.Targets))
	for _, t := range s.Targets {
		if seen[t.Name] {
			return fmt.Errorf("duplicate target name '%s'", t.Name)
		}
		seen[t.Name] = true

		if err := ValidateTarget(t, s.Limits); err != nil {
			return err
		}
	}

	if s.SMTPConfig != nil && s.SMTPConfig.Host == "" {
		return fmt.Errorf("smtp host cannot be empty when smtp is configured")
	}

	return nil
}
