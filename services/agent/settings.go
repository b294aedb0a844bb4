package agent

import (
	"time"

	"fptools-backend/lib/kvstore"
	"fptools-backend/lib/scrapers/funpay/orders"
)

// Command is one auto-response rule. An exact-match command fires only
// when the whole message equals the trigger, otherwise substring
// containment is enough. Matching is case-insensitive either way.
type Command struct {
	Trigger    string `json:"trigger"`
	Response   string `json:"response"`
	ExactMatch bool   `json:"exactMatch"`
}

// Greeting configures the first-contact message. Cooldown bounds how
// often the same chat gets greeted again.
type Greeting struct {
	Enabled  bool          `json:"enabled"`
	Text     string        `json:"text"`
	Cooldown time.Duration `json:"cooldown"`
}

// Settings is the agent's persisted configuration.
type Settings interface {
	AutoRaise() bool
	SetAutoRaise(enabled bool) error
	AutoResponse() bool
	SetAutoResponse(enabled bool) error
	AutoReviewReply() bool
	SetAutoReviewReply(enabled bool) error

	RaiseInterval() time.Duration
	SetRaiseInterval(interval time.Duration) error

	Greeting() Greeting
	SetGreeting(greeting Greeting) error

	Commands() []Command
	SetCommands(commands []Command) error

	ReviewTemplates() orders.ReplyTemplates
	SetReviewTemplates(templates orders.ReplyTemplates) error
}

const (
	keyAutoRaise       = "settings/auto_raise"
	keyAutoResponse    = "settings/auto_response"
	keyAutoReviewReply = "settings/auto_review_reply"
	keyRaiseInterval   = "settings/raise_interval"
	keyGreeting        = "settings/greeting"
	keyCommands        = "settings/commands"
	keyReviewTemplates = "settings/review_templates"
)

// StoreSettings persists settings in the agent's key/value store.
type StoreSettings struct {
	store *kvstore.Store
}

func NewStoreSettings(store *kvstore.Store) *StoreSettings {
	return &StoreSettings{store: store}
}

func (s *StoreSettings) AutoRaise() bool { return s.store.GetBool(keyAutoRaise, false) }
func (s *StoreSettings) SetAutoRaise(enabled bool) error {
	return s.store.SetBool(keyAutoRaise, enabled)
}

func (s *StoreSettings) AutoResponse() bool { return s.store.GetBool(keyAutoResponse, false) }
func (s *StoreSettings) SetAutoResponse(enabled bool) error {
	return s.store.SetBool(keyAutoResponse, enabled)
}

func (s *StoreSettings) AutoReviewReply() bool { return s.store.GetBool(keyAutoReviewReply, false) }
func (s *StoreSettings) SetAutoReviewReply(enabled bool) error {
	return s.store.SetBool(keyAutoReviewReply, enabled)
}

func (s *StoreSettings) RaiseInterval() time.Duration {
	return time.Duration(s.store.GetInt64(keyRaiseInterval, int64(4*time.Hour)))
}
func (s *StoreSettings) SetRaiseInterval(interval time.Duration) error {
	return s.store.SetInt64(keyRaiseInterval, int64(interval))
}

func (s *StoreSettings) Greeting() Greeting {
	var greeting Greeting
	if err := s.store.GetJSON(keyGreeting, &greeting); err != nil {
		return Greeting{Cooldown: 24 * time.Hour}
	}
	if greeting.Cooldown <= 0 {
		greeting.Cooldown = 24 * time.Hour
	}
	return greeting
}
func (s *StoreSettings) SetGreeting(greeting Greeting) error {
	return s.store.SetJSON(keyGreeting, greeting)
}

func (s *StoreSettings) Commands() []Command {
	var commands []Command
	if err := s.store.GetJSON(keyCommands, &commands); err != nil {
		return nil
	}
	return commands
}
func (s *StoreSettings) SetCommands(commands []Command) error {
	return s.store.SetJSON(keyCommands, commands)
}

func (s *StoreSettings) ReviewTemplates() orders.ReplyTemplates {
	var templates orders.ReplyTemplates
	if err := s.store.GetJSON(keyReviewTemplates, &templates); err != nil {
		return nil
	}
	return templates
}
func (s *StoreSettings) SetReviewTemplates(templates orders.ReplyTemplates) error {
	return s.store.SetJSON(keyReviewTemplates, templates)
}
