package config

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/jwalitptl/crm-api/pkg/logger"
)

// InboundRules is the derived-state configuration applied to every inbound reply.
// Handlers receive a snapshot per call; nothing reads it from globals.
type InboundRules struct {
	ChannelTag string
	NewLeadTag string
	// KeywordTags maps a lower-cased keyword to the tag applied when the
	// message body contains it.
	KeywordTags      map[string]string
	LanguageByPrefix map[string]string
}

func (c InboundConfig) Rules() InboundRules {
	rules := InboundRules{
		ChannelTag:       c.ChannelTag,
		NewLeadTag:       c.NewLeadTag,
		KeywordTags:      make(map[string]string, len(c.KeywordTags)),
		LanguageByPrefix: make(map[string]string, len(c.LanguageByPrefix)),
	}
	for k, v := range c.KeywordTags {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.TrimSpace(v) != "" {
			rules.KeywordTags[k] = strings.TrimSpace(v)
		}
	}
	for k, v := range c.LanguageByPrefix {
		rules.LanguageByPrefix[k] = v
	}
	return rules
}

// RulesStore holds the current InboundRules and swaps them atomically on reload.
type RulesStore struct {
	current atomic.Pointer[InboundRules]
}

func NewRulesStore(initial InboundRules) *RulesStore {
	s := &RulesStore{}
	s.Set(initial)
	return s
}

func (s *RulesStore) Rules() InboundRules {
	return *s.current.Load()
}

func (s *RulesStore) Set(rules InboundRules) {
	s.current.Store(&rules)
}

// WatchInboundRules reloads the inbound section whenever the config file changes.
// Invalid files keep the previous rules.
func WatchInboundRules(v *viper.Viper, store *RulesStore, log *logger.Logger) {
	v.OnConfigChange(func(e fsnotify.Event) {
		var inbound InboundConfig
		if err := v.UnmarshalKey("inbound", &inbound); err != nil {
			log.Error(err, "Failed to reload inbound rules", "file", e.Name)
			return
		}
		rules := inbound.Rules()
		store.Set(rules)
		log.Info("Reloaded inbound rules", "file", e.Name, "keyword_tags", len(rules.KeywordTags))
	})
	v.WatchConfig()
}
