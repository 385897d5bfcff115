package ingest

import "streamBot/internal/domain"

const (
	GlimeshTypeChat         = "chat"
	GlimeshTypeFollow       = "follow"
	GlimeshTypeSubscription = "subscription"
)

func decodeGlimesh(raw domain.RawEvent) (decoded, bool) {
	switch raw.Type {
	case GlimeshTypeChat:
		return decoded{
			kind:  domain.EventChatMessage,
			attrs: map[string]string{domain.AttrMessage: raw.Text},
			args:  splitArgs(raw.Text),
		}, true
	case GlimeshTypeFollow:
		return decoded{kind: domain.EventFollow, attrs: map[string]string{}}, true
	case GlimeshTypeSubscription:
		return decoded{
			kind: domain.EventSubscribe,
			attrs: map[string]string{
				domain.AttrSubPlan:     "Tier 1",
				domain.AttrSubPlanName: "Tier 1",
				domain.AttrSubMonths:   "1",
			},
		}, true
	}
	return decoded{}, false
}
