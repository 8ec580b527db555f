package i18n

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelserve-go/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Localizer manages internationalization of API-facing messages
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	// Load language files
	for _, lang := range cfg.Languages {
		if _, err := bundle.LoadMessageFile(fmt.Sprintf("%s/%s.json", cfg.Directory, lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}
	if localizer == nil {
		return messageID
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// FromRequest picks the best supported language from Accept-Language
func (l *Localizer) FromRequest(r *http.Request) string {
	header := r.Header.Get("Accept-Language")
	for _, part := range strings.Split(header, ",") {
		lang := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if lang == "" {
			continue
		}
		// Match primary subtag against configured languages
		base := strings.SplitN(lang, "-", 2)[0]
		if _, ok := l.localizers[lang]; ok {
			return lang
		}
		if _, ok := l.localizers[base]; ok {
			return base
		}
	}
	return l.defaultLanguage
}

// Message IDs
const (
	MsgModelLoading      = "model_loading"
	MsgModelReady        = "model_ready"
	MsgRateLimitExceeded = "rate_limit_exceeded"
	MsgChatNotFound      = "chat_not_found"
	MsgChatDeleted       = "chat_deleted"
	MsgInternalError     = "internal_error"
)
