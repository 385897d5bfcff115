package ingest

import (
	"strconv"
	"strings"

	"streamBot/internal/domain"
)

const (
	TwitchTypePrivmsg    = "PRIVMSG"
	TwitchTypeUserNotice = "USERNOTICE"
	TwitchTypeClearChat  = "CLEARCHAT"

	twitchAnonymousGifter = "ananonymousgifter"
)

func decodeTwitch(raw domain.RawEvent) (decoded, bool) {
	switch raw.Type {
	case TwitchTypePrivmsg:
		return decodeTwitchPrivmsg(raw)
	case TwitchTypeUserNotice:
		return decodeTwitchUserNotice(raw)
	case TwitchTypeClearChat:
		return decodeTwitchClearChat(raw)
	}
	return decoded{}, false
}

func decodeTwitchPrivmsg(raw domain.RawEvent) (decoded, bool) {
	attrs := map[string]string{domain.AttrMessage: raw.Text}

	if bits := atoiOr(raw.Tags["bits"], 0); bits > 0 {
		attrs[domain.AttrBitsAmount] = strconv.Itoa(bits)
		return decoded{kind: domain.EventBitsCheered, attrs: attrs, args: splitArgs(raw.Text)}, true
	}

	if rewardID := raw.Tags["custom-reward-id"]; rewardID != "" {
		attrs[domain.AttrRewardID] = rewardID
		if name := raw.Tags["reward-name"]; name != "" {
			attrs[domain.AttrRewardName] = name
		}
		if cost := raw.Tags["reward-cost"]; cost != "" {
			attrs[domain.AttrRewardCost] = strconv.Itoa(atoiOr(cost, 0))
		}
		return decoded{kind: domain.EventChannelPointsRedeemed, attrs: attrs, args: splitArgs(raw.Text)}, true
	}

	return decoded{kind: domain.EventChatMessage, attrs: attrs, args: splitArgs(raw.Text)}, true
}

func decodeTwitchUserNotice(raw domain.RawEvent) (decoded, bool) {
	tags := raw.Tags
	msgID := tags["msg-id"]
	anonymous := strings.HasPrefix(msgID, "anon") || strings.EqualFold(raw.Sender.Username, twitchAnonymousGifter)

	attrs := map[string]string{}
	if raw.Text != "" {
		attrs[domain.AttrMessage] = raw.Text
	}

	switch msgID {
	case "sub":
		setTwitchPlan(attrs, tags)
		attrs[domain.AttrSubMonths] = strconv.Itoa(atoiOr(tags["msg-param-cumulative-months"], 1))
		return decoded{kind: domain.EventSubscribe, attrs: attrs}, true

	case "resub":
		setTwitchPlan(attrs, tags)
		streak := atoiOr(tags["msg-param-streak-months"], 0)
		cumulative := atoiOr(tags["msg-param-cumulative-months"], 1)
		attrs[domain.AttrSubMonths] = strconv.Itoa(max(streak, cumulative))
		attrs[domain.AttrSubStreak] = strconv.Itoa(streak)
		return decoded{kind: domain.EventResubscribe, attrs: attrs}, true

	case "giftpaidupgrade", "anongiftpaidupgrade", "primepaidupgrade":
		setTwitchPlan(attrs, tags)
		attrs[domain.AttrSubMonths] = "1"
		return decoded{kind: domain.EventSubscribe, attrs: attrs}, true

	case "subgift", "anonsubgift":
		setTwitchPlan(attrs, tags)
		attrs[domain.AttrSubMonthsGifted] = strconv.Itoa(atoiOr(tags["msg-param-gift-months"], 1))
		target := &domain.RawUser{
			ID:          tags["msg-param-recipient-id"],
			Username:    tags["msg-param-recipient-user-name"],
			DisplayName: firstNonEmpty(tags["msg-param-recipient-display-name"], tags["msg-param-recipient-user-name"]),
		}
		return decoded{
			kind:      domain.EventSubscriptionGifted,
			attrs:     attrs,
			args:      splitArgs(target.Username),
			target:    target,
			anonymous: anonymous,
		}, true

	case "submysterygift", "anonsubmysterygift":
		setTwitchPlan(attrs, tags)
		attrs[domain.AttrSubsGiftedAmount] = strconv.Itoa(atoiOr(tags["msg-param-mass-gift-count"], 1))
		attrs[domain.AttrSubsGiftedLifetime] = strconv.Itoa(atoiOr(tags["msg-param-sender-count"], 0))
		return decoded{kind: domain.EventMassSubscriptionsGifted, attrs: attrs, anonymous: anonymous}, true

	case "raid":
		attrs[domain.AttrRaidViewerCount] = strconv.Itoa(atoiOr(tags["msg-param-viewerCount"], 0))
		sender := raw.Sender
		if sender.Username == "" {
			sender.Username = tags["msg-param-login"]
			sender.DisplayName = firstNonEmpty(tags["msg-param-displayName"], sender.Username)
		}
		return decoded{kind: domain.EventRaided, attrs: attrs, sender: &sender}, true
	}
	return decoded{}, false
}

// CLEARCHAT no trae al moderador; el usuario del evento es el afectado.
func decodeTwitchClearChat(raw domain.RawEvent) (decoded, bool) {
	target := raw.Tags["target-user-id"]
	if target == "" && raw.Text == "" {
		return decoded{}, false
	}
	sender := domain.RawUser{ID: target, Username: raw.Text, DisplayName: raw.Text}

	if duration, ok := raw.Tags["ban-duration"]; ok {
		return decoded{
			kind:   domain.EventTimeout,
			attrs:  map[string]string{domain.AttrTimeoutLength: strconv.Itoa(atoiOr(duration, 0))},
			sender: &sender,
		}, true
	}
	return decoded{kind: domain.EventBan, attrs: map[string]string{}, sender: &sender}, true
}

func setTwitchPlan(attrs map[string]string, tags map[string]string) {
	tier := twitchTierName(tags["msg-param-sub-plan"])
	attrs[domain.AttrSubPlan] = tier
	attrs[domain.AttrSubPlanName] = firstNonEmpty(tags["msg-param-sub-plan-name"], tier)
}

func twitchTierName(plan string) string {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case "prime":
		return "Prime"
	case "2000":
		return "Tier 2"
	case "3000":
		return "Tier 3"
	default:
		return "Tier 1"
	}
}
