package ingest

import (
	"strconv"

	"streamBot/internal/domain"
)

// Tipos de liveChatMessage que reenvía el puente de YouTube.
const (
	YouTubeTypeText             = "textMessageEvent"
	YouTubeTypeSuperChat        = "superChatEvent"
	YouTubeTypeSuperSticker     = "superStickerEvent"
	YouTubeTypeNewSponsor       = "newSponsorEvent"
	YouTubeTypeMemberMilestone  = "memberMilestoneChatEvent"
	YouTubeTypeMembershipGift   = "membershipGiftingEvent"
	YouTubeTypeGiftMembershipRx = "giftMembershipReceivedEvent"
)

func decodeYouTube(raw domain.RawEvent) (decoded, bool) {
	tags := raw.Tags

	switch raw.Type {
	case YouTubeTypeText:
		return decoded{
			kind:  domain.EventChatMessage,
			attrs: map[string]string{domain.AttrMessage: raw.Text},
			args:  splitArgs(raw.Text),
		}, true

	case YouTubeTypeSuperChat, YouTubeTypeSuperSticker:
		return decoded{
			kind: domain.EventSuperChat,
			attrs: map[string]string{
				domain.AttrMessage: raw.Text,
				domain.AttrAmount:  firstNonEmpty(tags["amount_display"], tags["amount"]),
			},
		}, true

	case YouTubeTypeNewSponsor:
		level := firstNonEmpty(tags["member_level_name"], "Member")
		return decoded{
			kind: domain.EventSubscribe,
			attrs: map[string]string{
				domain.AttrSubPlan:     level,
				domain.AttrSubPlanName: level,
				domain.AttrSubMonths:   "1",
			},
		}, true

	case YouTubeTypeMemberMilestone:
		level := firstNonEmpty(tags["member_level_name"], "Member")
		return decoded{
			kind: domain.EventResubscribe,
			attrs: map[string]string{
				domain.AttrMessage:     raw.Text,
				domain.AttrSubPlan:     level,
				domain.AttrSubPlanName: level,
				domain.AttrSubMonths:   strconv.Itoa(atoiOr(tags["member_month"], 1)),
			},
		}, true

	case YouTubeTypeMembershipGift:
		return decoded{
			kind: domain.EventMassSubscriptionsGifted,
			attrs: map[string]string{
				domain.AttrSubsGiftedAmount:   strconv.Itoa(atoiOr(tags["gift_memberships_count"], 1)),
				domain.AttrSubsGiftedLifetime: "0",
			},
		}, true

	case YouTubeTypeGiftMembershipRx:
		// El autor del mensaje es quien recibe; el que regala viene en los tags.
		receiver := raw.Sender
		gifter := domain.RawUser{
			ID:          tags["gifter_channel_id"],
			Username:    tags["gifter_name"],
			DisplayName: tags["gifter_name"],
		}
		return decoded{
			kind:      domain.EventSubscriptionGifted,
			attrs:     map[string]string{domain.AttrSubMonthsGifted: "1"},
			args:      splitArgs(receiver.Username),
			sender:    &gifter,
			target:    &receiver,
			anonymous: gifter.ID == "" && gifter.Username == "",
		}, true
	}
	return decoded{}, false
}
