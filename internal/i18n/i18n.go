// Package i18n translates user-facing text. Messages live in the embedded
// locales/<lang>.json files and the request's locale travels in its context.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"

	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

var (
	bundle      *goi18n.Bundle
	defaultLang = "en"
)

// Init loads every embedded locale and makes lang the default. It fails
// when there is no locale file for lang.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	b := goi18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	files, err := fs.Glob(localeFS, "locales/*.json")
	if err != nil {
		return fmt.Errorf("list locales: %w", err)
	}
	var loaded []string
	for _, name := range files {
		data, err := localeFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		mf, err := b.ParseMessageFileBytes(data, name)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		loaded = append(loaded, mf.Tag.String())
	}
	if !slices.Contains(loaded, tag.String()) {
		return fmt.Errorf("no messages for language %q (have %v)", lang, loaded)
	}

	bundle, defaultLang = b, tag.String()
	slog.Debug("loaded locales", "languages", loaded, "default", defaultLang)
	return nil
}

// Locale is a language and the localizer that serves it.
type Locale struct {
	Lang string
	loc  *goi18n.Localizer
}

// NewLocale returns the locale of lang. Messages missing in lang come from
// the default language.
func NewLocale(lang string) Locale {
	return Locale{Lang: lang, loc: goi18n.NewLocalizer(bundle, lang, defaultLang)}
}

type localeKey struct{}

// WithLocale stores l in the context.
func WithLocale(ctx context.Context, l Locale) context.Context {
	return context.WithValue(ctx, localeKey{}, l)
}

func localeFrom(ctx context.Context) Locale {
	if l, ok := ctx.Value(localeKey{}).(Locale); ok {
		return l
	}
	return NewLocale(defaultLang)
}

// Lang is the language of the context's locale, for the html lang
// attribute.
func Lang(ctx context.Context) string {
	return localeFrom(ctx).Lang
}

// translate localizes cfg and falls back to the message ID, logging the
// miss.
func translate(ctx context.Context, cfg *goi18n.LocalizeConfig) string {
	s, err := localeFrom(ctx).loc.Localize(cfg)
	if err != nil {
		slog.Warn("missing translation", "id", cfg.MessageID, "error", err)
		return cfg.MessageID
	}
	return s
}

// T translates a message by ID.
func T(ctx context.Context, msgID string) string {
	return translate(ctx, &goi18n.LocalizeConfig{MessageID: msgID})
}

// Td translates a message with template data.
func Td(ctx context.Context, msgID string, data map[string]any) string {
	return translate(ctx, &goi18n.LocalizeConfig{MessageID: msgID, TemplateData: data})
}

// Tp translates a message in the plural form for count. The template sees
// the count as .Count.
func Tp(ctx context.Context, msgID string, count int) string {
	return translate(ctx, &goi18n.LocalizeConfig{
		MessageID:    msgID,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}

// Lookup translates msgID and reports whether a translation exists. Error
// codes use it so that unknown codes fall back to the raw error message.
func Lookup(ctx context.Context, msgID string) (string, bool) {
	s, err := localeFrom(ctx).loc.Localize(&goi18n.LocalizeConfig{MessageID: msgID})
	if err != nil {
		return "", false
	}
	return s, true
}
