package domain

import (
	"maps"
	"strconv"
	"time"
)

type EventKind string

const (
	EventFollow                  EventKind = "follow"
	EventSubscribe               EventKind = "subscribe"
	EventResubscribe             EventKind = "resubscribe"
	EventSubscriptionGifted      EventKind = "subscription_gifted"
	EventMassSubscriptionsGifted EventKind = "mass_subscriptions_gifted"
	EventBitsCheered             EventKind = "bits_cheered"
	EventChannelPointsRedeemed   EventKind = "channel_points_redeemed"
	EventRaided                  EventKind = "raided"
	EventChatMessage             EventKind = "chat_message"
	EventTimeout                 EventKind = "timeout"
	EventBan                     EventKind = "ban"
	EventSpellCast               EventKind = "spell_cast"
	EventSuperChat               EventKind = "super_chat"
)

// Claves de atributos que los comandos pueden interpolar como $clave.
const (
	AttrMessage            = "message"
	AttrSubPlanName        = "usersubplanname"
	AttrSubPlan            = "usersubplan"
	AttrSubMonths          = "usersubmonths"
	AttrSubStreak          = "usersubstreak"
	AttrSubMonthsGifted    = "usersubmonthsgifted"
	AttrIsAnonymous        = "isanonymous"
	AttrSubsGiftedAmount   = "subsgiftedamount"
	AttrSubsGiftedLifetime = "subsgiftedlifetimeamount"
	AttrBitsAmount         = "bitsamount"
	AttrRewardID           = "rewardid"
	AttrRewardName         = "rewardname"
	AttrRewardCost         = "rewardcost"
	AttrTimeoutLength      = "timeoutlength"
	AttrRaidViewerCount    = "raidviewercount"
	AttrSpellName          = "spellname"
	AttrSpellQuantity      = "spellquantity"
	AttrSpellValue         = "spellvalue"
	AttrSpellValueType     = "spellvaluetype"
	AttrAmount             = "amount"
	AttrModerationReason   = "moderationreason"
)

// RawUser es la identidad del emisor tal como la entrega la plataforma.
type RawUser struct {
	ID             string
	Username       string
	DisplayName    string
	Roles          []CommandAccessRole
	SubscriberTier int
}

// RawEvent es el sobre común que producen los adapters antes de normalizar.
type RawEvent struct {
	Platform   Platform
	ID         string
	Type       string
	ChannelID  string
	Sender     RawUser
	Target     *RawUser
	Text       string
	Tags       map[string]string
	ReceivedAt time.Time
}

// PlatformEvent es la representación canónica de cualquier evento entrante.
type PlatformEvent struct {
	ID         string
	Kind       EventKind
	Platform   Platform
	ChannelID  string
	ActingUser *User
	TargetUser *User
	Arguments  []string
	Attributes map[string]string
	OccurredAt time.Time
}

func (e *PlatformEvent) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// AttrInt interpreta el atributo como entero; devuelve def si falta o no es numérico.
func (e *PlatformEvent) AttrInt(key string, def int) int {
	raw := e.Attr(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// SetAttr sólo agrega o reemplaza; nunca elimina claves.
func (e *PlatformEvent) SetAttr(key, value string) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
}

// Clone copia argumentos y atributos; los usuarios se comparten por referencia.
func (e *PlatformEvent) Clone() *PlatformEvent {
	if e == nil {
		return nil
	}
	out := *e
	out.Arguments = append([]string(nil), e.Arguments...)
	out.Attributes = maps.Clone(e.Attributes)
	if out.Attributes == nil {
		out.Attributes = make(map[string]string)
	}
	return &out
}

func (e *PlatformEvent) IsAnonymous() bool {
	return e.Attr(AttrIsAnonymous) == "true"
}
