package config

import (
	"fmt"
	"strconv"
	"strings"
)

// envSetting maps one environment variable suffix onto a setting.
type envSetting struct {
	key string
	set func(s *Settings, value string) error
}

var envSettings = []envSetting{
	{"HOST", func(s *Settings, v string) error { s.DefaultHost = v; return nil }},
	{"TRANSPORT", func(s *Settings, v string) error { s.Transport = strings.ToLower(v); return nil }},
	{"SHARE_DIR", func(s *Settings, v string) error { s.ShareDir = v; return nil }},
	{"LOG_LEVEL", intSetting(func(s *Settings) *int { return &s.LogLevel })},
	{"RESTORE_DELAY_MS", intSetting(func(s *Settings) *int { return &s.RestoreDelayMS })},
	{"CRASH_REPORTS", boolSetting(func(s *Settings) *bool { return &s.CrashReports })},
	{"CHECK_WORKSPACE", boolSetting(func(s *Settings) *bool { return &s.CheckWorkspace })},
}

func intSetting(field func(*Settings) *int) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(s) = n
		return nil
	}
}

func boolSetting(field func(*Settings) *bool) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(s) = b
		return nil
	}
}

// applyEnv overlays prefixed environment variables on s. Credential
// variables apply to the default host after FLOO_HOST has been read.
func (l *Loader) applyEnv(s *Settings) error {
	for _, e := range envSettings {
		name := l.prefix + e.key
		v := strings.TrimSpace(l.getenv(name))
		if v == "" {
			continue
		}
		if err := e.set(s, v); err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidValue, name, v, err)
		}
	}

	creds := s.Auth[s.DefaultHost]
	changed := false
	for key, field := range map[string]*string{
		"USERNAME": &creds.Username,
		"API_KEY":  &creds.APIKey,
		"SECRET":   &creds.Secret,
	} {
		if v := strings.TrimSpace(l.getenv(l.prefix + key)); v != "" {
			*field = v
			changed = true
		}
	}
	if changed {
		s.SetCredentials(s.DefaultHost, creds)
	}
	return nil
}
