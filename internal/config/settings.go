package config

import "sync"

// Settings holds the values that may change while the daemon runs.
// Readers consult it on every use rather than caching.
type Settings struct {
	mu            sync.RWMutex
	language      string
	prompt        string
	surface       bool
	showIndicator bool
}

// NewSettings creates live settings seeded from cfg
func NewSettings(cfg *Config) *Settings {
	s := &Settings{}
	s.Update(cfg)
	return s
}

// Update replaces the live values with those from cfg
func (s *Settings) Update(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = cfg.Transcription.Language
	s.prompt = cfg.Transcription.Prompt
	s.surface = cfg.Surface.Enabled
	s.showIndicator = cfg.Surface.ShowIndicator
}

// Language returns the transcription language code
func (s *Settings) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.language
}

// Prompt returns the transcription domain hint
func (s *Settings) Prompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompt
}

// SurfaceEnabled reports whether transcripts should reach the input surface
func (s *Settings) SurfaceEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.surface
}

// ShowIndicator reports whether start/stop notifications are shown
func (s *Settings) ShowIndicator() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.showIndicator
}
