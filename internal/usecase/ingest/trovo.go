package ingest

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"streamBot/internal/domain"
)

// Tipos de mensaje del chat de Trovo.
const (
	TrovoTypeChat        = "0"
	TrovoTypeSpell       = "5"
	TrovoTypeSub         = "5001"
	TrovoTypeFollow      = "5003"
	TrovoTypeMassGift    = "5005"
	TrovoTypeGift        = "5006"
	TrovoTypeRaid        = "5008"
	TrovoTypeCustomSpell = "5009"
)

var trovoRaidPattern = regexp.MustCompile(` is carrying \d+ raiders to this channel\.`)

type trovoSpell struct {
	Name      string      `json:"gift"`
	Quantity  json.Number `json:"num"`
	Value     json.Number `json:"gift_value"`
	ValueType string      `json:"value_type"`
}

func decodeTrovo(raw domain.RawEvent) (decoded, bool) {
	content := raw.Text

	switch raw.Type {
	case TrovoTypeChat:
		return decoded{
			kind:  domain.EventChatMessage,
			attrs: map[string]string{domain.AttrMessage: content},
			args:  splitArgs(content),
		}, true

	case TrovoTypeFollow:
		return decoded{kind: domain.EventFollow, attrs: map[string]string{}}, true

	case TrovoTypeSub:
		attrs := map[string]string{
			domain.AttrMessage:   content,
			domain.AttrSubMonths: "1",
		}
		if plan := raw.Tags["sub_tier"]; plan != "" {
			attrs[domain.AttrSubPlan] = "Tier " + plan
			attrs[domain.AttrSubPlanName] = "Tier " + plan
		}
		return decoded{kind: domain.EventSubscribe, attrs: attrs}, true

	case TrovoTypeMassGift:
		return decoded{
			kind:  domain.EventMassSubscriptionsGifted,
			attrs: map[string]string{domain.AttrSubsGiftedAmount: strconv.Itoa(atoiOr(content, 1))},
		}, true

	case TrovoTypeGift:
		parts := strings.Split(content, ",")
		if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
			return decoded{}, false
		}
		receiver := strings.TrimSpace(parts[1])
		return decoded{
			kind:   domain.EventSubscriptionGifted,
			attrs:  map[string]string{domain.AttrSubMonthsGifted: "1"},
			args:   []string{receiver},
			target: &domain.RawUser{Username: receiver, DisplayName: receiver},
		}, true

	case TrovoTypeRaid:
		match := trovoRaidPattern.FindString(content)
		if match == "" {
			return decoded{}, false
		}
		return decoded{
			kind:  domain.EventRaided,
			attrs: map[string]string{domain.AttrRaidViewerCount: strconv.Itoa(atoiOr(digitsOnly(match), 0))},
		}, true

	case TrovoTypeSpell, TrovoTypeCustomSpell:
		var spell trovoSpell
		if err := json.Unmarshal([]byte(content), &spell); err != nil || spell.Name == "" {
			spell = trovoSpell{Name: strings.TrimSpace(content)}
		}
		quantity := atoiOr(spell.Quantity.String(), 1)
		value := atoiOr(spell.Value.String(), 0)
		return decoded{
			kind: domain.EventSpellCast,
			attrs: map[string]string{
				domain.AttrSpellName:      spell.Name,
				domain.AttrSpellQuantity:  strconv.Itoa(quantity),
				domain.AttrSpellValue:     strconv.Itoa(value * quantity),
				domain.AttrSpellValueType: spell.ValueType,
			},
		}, true
	}
	return decoded{}, false
}
