package moderation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"streamBot/internal/domain"
)

func TestShouldTextBeModerated(t *testing.T) {
	filter := NewFilter(Config{BannedWords: []string{"badword", "c++"}, BlockLinks: true})
	viewer := domain.NewUser("v", domain.PlatformIdentity{Platform: domain.PlatformTwitch, ID: "1", Username: "viewer"}, time.Now())
	mod := domain.NewUser("m", domain.PlatformIdentity{
		Platform: domain.PlatformTwitch, ID: "2", Username: "mod",
		Roles: []domain.CommandAccessRole{domain.CommandAccessModerators},
	}, time.Now())

	tests := []struct {
		name string
		user *domain.User
		text string
		want string
	}{
		{name: "clean", user: viewer, text: "hello there", want: ""},
		{name: "banned word any case", user: viewer, text: "what a BadWord", want: ReasonBannedWord},
		{name: "banned word inside another word", user: viewer, text: "badwords are fine", want: ""},
		{name: "special characters quoted", user: viewer, text: "i like c++ a lot", want: ReasonBannedWord},
		{name: "link", user: viewer, text: "visit https://example.com now", want: ReasonLink},
		{name: "bare domain", user: viewer, text: "go to spam.gg", want: ReasonLink},
		{name: "moderators exempt", user: mod, text: "badword https://x.com", want: ""},
		{name: "empty", user: viewer, text: "  ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filter.ShouldTextBeModerated(context.Background(), tt.user, domain.PlatformTwitch, tt.text)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterWithoutRules(t *testing.T) {
	filter := NewFilter(Config{})
	assert.Empty(t, filter.ShouldTextBeModerated(context.Background(), nil, domain.PlatformTrovo, "https://example.com"))
}
