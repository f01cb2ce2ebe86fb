package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// maxTimeout caps any configured timeout
const maxTimeout = time.Hour

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateDir requires an absolute directory path
func (v *Validator) ValidateDir(name, dir string) error {
	if dir == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !filepath.IsAbs(dir) {
		return fmt.Errorf("%s must be an absolute path, got %q", name, dir)
	}
	return nil
}

// ValidateTimeout requires a positive duration of at most an hour
func (v *Validator) ValidateTimeout(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	if d > maxTimeout {
		return fmt.Errorf("%s too large (max %s), got %s", name, maxTimeout, d)
	}
	return nil
}

// ValidateListenAddr validates a host:port listen address
func (v *Validator) ValidateListenAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port in %q", addr)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}
