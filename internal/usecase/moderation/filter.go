// Package moderation decide si un texto debe frenar la automatización.
package moderation

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/util"
)

const (
	ReasonBannedWord = "Banned Words"
	ReasonLink       = "No Links"
)

var linkPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\b[a-z0-9-]+\.(com|net|org|tv|gg|io|ly|me|co)\b)`)

type Config struct {
	BannedWords []string
	BlockLinks  bool
	// ExemptRole y superiores nunca se moderan.
	ExemptRole domain.CommandAccessRole
	Logger     *zap.Logger
}

// Filter implementa domain.ModerationService.
type Filter struct {
	words      *regexp.Regexp
	blockLinks bool
	exempt     domain.CommandAccessRole
	logger     *zap.Logger
}

func NewFilter(cfg Config) *Filter {
	exempt := cfg.ExemptRole
	if exempt == "" {
		exempt = domain.CommandAccessModerators
	}
	return &Filter{
		words:      compileWords(cfg.BannedWords),
		blockLinks: cfg.BlockLinks,
		exempt:     exempt,
		logger:     util.OrNop(cfg.Logger),
	}
}

func compileWords(words []string) *regexp.Regexp {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(w)))
	}
	if len(quoted) == 0 {
		return nil
	}
	// \b no sirve para palabras que terminan en símbolos ("c++").
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(?:` + strings.Join(quoted, "|") + `)(?:$|[^\p{L}\p{N}_])`)
}

// ShouldTextBeModerated devuelve el motivo o "" si el texto está limpio.
func (f *Filter) ShouldTextBeModerated(_ context.Context, user *domain.User, platform domain.Platform, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if user != nil && !user.IsUnassociated() && user.MeetsRole(platform, f.exempt) {
		return ""
	}

	if f.words != nil && f.words.MatchString(text) {
		f.logger.Debug("moderation: banned word", zap.String("platform", string(platform)))
		return ReasonBannedWord
	}
	if f.blockLinks && linkPattern.MatchString(text) {
		f.logger.Debug("moderation: link blocked", zap.String("platform", string(platform)))
		return ReasonLink
	}
	return ""
}
