package domain

import "context"

type Currency struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	OnFollowBonus    int64  `json:"on_follow_bonus"`
	OnSubscribeBonus int64  `json:"on_subscribe_bonus"`
	OnHostBonus      int64  `json:"on_host_bonus"`
	// TracksBits suma la cantidad de bits de cada cheer a esta moneda.
	TracksBits bool `json:"tracks_bits"`
}

type StreamPass struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	UserPermission CommandAccessRole `json:"user_permission"`
	FollowBonus    int64             `json:"follow_bonus"`
	SubscribeBonus int64             `json:"subscribe_bonus"`
	HostBonus      int64             `json:"host_bonus"`
	BitsBonus      float64           `json:"bits_bonus"`
}

type CurrencyRepository interface {
	ListCurrencies(ctx context.Context) ([]Currency, error)
	UpsertCurrency(ctx context.Context, c Currency) error
	ListStreamPasses(ctx context.Context) ([]StreamPass, error)
	UpsertStreamPass(ctx context.Context, p StreamPass) error
}

type CounterRepository interface {
	ListCounters(ctx context.Context) (map[string]float64, error)
	SaveCounters(ctx context.Context, counters map[string]float64) error
}
