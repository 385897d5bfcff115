package domain

import "fmt"

type ActionKind string

const (
	ActionChat       ActionKind = "chat"
	ActionModeration ActionKind = "moderation"
	ActionCurrency   ActionKind = "currency"
	ActionCounter    ActionKind = "counter"
	ActionWait       ActionKind = "wait"
	ActionSpeak      ActionKind = "speak"
	ActionOverlay    ActionKind = "overlay"
	ActionSocial     ActionKind = "social"
)

type ModerationType string

const (
	ModerationTimeout      ModerationType = "timeout"
	ModerationPurge        ModerationType = "purge"
	ModerationClearChat    ModerationType = "clear_chat"
	ModerationBan          ModerationType = "ban"
	ModerationUnban        ModerationType = "unban"
	ModerationMod          ModerationType = "mod"
	ModerationUnmod        ModerationType = "unmod"
	ModerationAddStrike    ModerationType = "add_strike"
	ModerationRemoveStrike ModerationType = "remove_strike"
)

type CurrencyOperation string

const (
	CurrencyAdd      CurrencyOperation = "add"
	CurrencySubtract CurrencyOperation = "subtract"
	CurrencySet      CurrencyOperation = "set"
)

type CounterOperation string

const (
	CounterUpdate CounterOperation = "update"
	CounterReset  CounterOperation = "reset"
	CounterSet    CounterOperation = "set"
)

type ChatAction struct {
	Text string `json:"text"`
	// Mention antepone @usuario al mensaje.
	Mention bool `json:"mention,omitempty"`
}

type ModerationAction struct {
	Type     ModerationType `json:"type"`
	Target   string         `json:"target,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

type CurrencyAction struct {
	CurrencyID string            `json:"currency_id"`
	Operation  CurrencyOperation `json:"operation"`
	Amount     string            `json:"amount"`
	Target     string            `json:"target,omitempty"`
}

type CounterAction struct {
	Name      string           `json:"name"`
	Operation CounterOperation `json:"operation"`
	Amount    string           `json:"amount,omitempty"`
}

type WaitAction struct {
	Seconds string `json:"seconds"`
}

type SpeakAction struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type OverlayAction struct {
	Text     string `json:"text"`
	Duration string `json:"duration,omitempty"`
}

type SocialAction struct {
	Text string `json:"text"`
}

// Action es una unión etiquetada: Kind indica cuál de los payloads está presente.
type Action struct {
	Kind           ActionKind `json:"kind"`
	AbortOnFailure bool       `json:"abort_on_failure,omitempty"`

	Chat       *ChatAction       `json:"chat,omitempty"`
	Moderation *ModerationAction `json:"moderation,omitempty"`
	Currency   *CurrencyAction   `json:"currency,omitempty"`
	Counter    *CounterAction    `json:"counter,omitempty"`
	Wait       *WaitAction       `json:"wait,omitempty"`
	Speak      *SpeakAction      `json:"speak,omitempty"`
	Overlay    *OverlayAction    `json:"overlay,omitempty"`
	Social     *SocialAction     `json:"social,omitempty"`
}

func (a Action) Validate() error {
	var present bool
	switch a.Kind {
	case ActionChat:
		present = a.Chat != nil
	case ActionModeration:
		present = a.Moderation != nil
	case ActionCurrency:
		present = a.Currency != nil
	case ActionCounter:
		present = a.Counter != nil
	case ActionWait:
		present = a.Wait != nil
	case ActionSpeak:
		present = a.Speak != nil
	case ActionOverlay:
		present = a.Overlay != nil
	case ActionSocial:
		present = a.Social != nil
	default:
		return fmt.Errorf("action: unknown kind %q", a.Kind)
	}
	if !present {
		return fmt.Errorf("action: missing payload for kind %q", a.Kind)
	}
	return nil
}

func NewChatAction(text string) Action {
	return Action{Kind: ActionChat, Chat: &ChatAction{Text: text}}
}

func NewWaitAction(seconds string) Action {
	return Action{Kind: ActionWait, Wait: &WaitAction{Seconds: seconds}}
}

func NewCounterAction(name string, op CounterOperation, amount string) Action {
	return Action{Kind: ActionCounter, Counter: &CounterAction{Name: name, Operation: op, Amount: amount}}
}

func NewModerationAction(kind ModerationType, target string) Action {
	return Action{Kind: ActionModeration, Moderation: &ModerationAction{Type: kind, Target: target}}
}

func NewCurrencyAction(currencyID string, op CurrencyOperation, amount string) Action {
	return Action{Kind: ActionCurrency, Currency: &CurrencyAction{CurrencyID: currencyID, Operation: op, Amount: amount}}
}
