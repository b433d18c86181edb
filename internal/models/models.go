package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrStaleFence rejects a shared-store write made under a superseded leader token.
	ErrStaleFence = errors.New("stale leader token")
)

type Kind string

const (
	KindCreative Kind = "creative"
	KindLanding  Kind = "landing"
)

func (k Kind) Valid() bool { return k == KindCreative || k == KindLanding }

// Entity is a creative or a landing. LinkTitles and Links are parallel.
type Entity struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Article    string    `json:"article"`
	EditorID   string    `json:"editor_id"`
	LinkTitles []string  `json:"link_titles"`
	Links      []string  `json:"links"`
	Comment    string    `json:"comment,omitempty"`
	TrelloLink string    `json:"trello_link,omitempty"`
	Country    string    `json:"country,omitempty"`
	WorkTypes  []string  `json:"work_types,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	BuyerID    string    `json:"buyer_id,omitempty"`
	SearcherID string    `json:"searcher_id,omitempty"`
	DesignerID string    `json:"designer_id,omitempty"`
}

func (e Entity) Validate() error {
	if !e.Kind.Valid() {
		return ErrInvalidInput
	}
	if e.Article == "" {
		return ErrInvalidInput
	}
	if len(e.LinkTitles) != len(e.Links) {
		return ErrInvalidInput
	}
	return nil
}

// EditRecord is one history entry of an entity.
type EditRecord struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	EditorID  string    `json:"editor_id,omitempty"`
	Note      string    `json:"note,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

type RawMetrics struct {
	Leads           float64 `json:"leads"`
	Cost            float64 `json:"cost"`
	Clicks          float64 `json:"clicks"`
	Impressions     float64 `json:"impressions"`
	AvgDuration     float64 `json:"avg_duration"`
	DaysCount       float64 `json:"days_count"`
	CostFromSources float64 `json:"cost_from_sources"`
	ClicksOnLink    float64 `json:"clicks_on_link"`
}

type FormattedMetrics struct {
	Leads       string `json:"leads"`
	Cost        string `json:"cost"`
	Clicks      string `json:"clicks"`
	Impressions string `json:"impressions"`
	AvgDuration string `json:"avg_duration"`
	DaysCount   string `json:"days_count"`
	CPL         string `json:"cpl,omitempty"`
	CTR         string `json:"ctr,omitempty"`
}

// VideoMetricRecord is one lookup result keyed by video title.
type VideoMetricRecord struct {
	Name      string            `json:"name"`
	Found     bool              `json:"found"`
	Error     string            `json:"error,omitempty"`
	Raw       *RawMetrics       `json:"raw,omitempty"`
	Formatted *FormattedMetrics `json:"formatted,omitempty"`
}

type AggregatedRaw struct {
	Leads           float64 `json:"leads"`
	Cost            float64 `json:"cost"`
	Clicks          float64 `json:"clicks"`
	Impressions     float64 `json:"impressions"`
	AvgDuration     float64 `json:"avg_duration"`
	DaysCount       float64 `json:"days_count"`
	CostFromSources float64 `json:"cost_from_sources"`
	ClicksOnLink    float64 `json:"clicks_on_link"`
	CPL             float64 `json:"cpl"`
	CTR             float64 `json:"ctr"`
	CPC             float64 `json:"cpc"`
	CPM             float64 `json:"cpm"`
}

type AggregatedFormatted struct {
	Leads           string `json:"leads"`
	Cost            string `json:"cost"`
	Clicks          string `json:"clicks"`
	Impressions     string `json:"impressions"`
	AvgDuration     string `json:"avg_duration"`
	DaysCount       string `json:"days_count"`
	CostFromSources string `json:"cost_from_sources"`
	ClicksOnLink    string `json:"clicks_on_link"`
	CPL             string `json:"cpl"`
	CTR             string `json:"ctr"`
	CPC             string `json:"cpc"`
	CPM             string `json:"cpm"`
}

type AggregatedData struct {
	Raw       AggregatedRaw       `json:"raw"`
	Formatted AggregatedFormatted `json:"formatted"`
}

// AggregatedMetric is derived per entity and never stored.
type AggregatedMetric struct {
	Found      bool           `json:"found"`
	VideoCount int            `json:"video_count"`
	Data       AggregatedData `json:"data"`
}

const (
	TierGreen = "green"
	TierGold  = "gold"
	TierPink  = "pink"
	TierRed   = "red"
)

// TierOrder lists tier names from cheapest to most expensive.
var TierOrder = []string{TierGreen, TierGold, TierPink, TierRed}

type Tier struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// ZoneThresholds holds up to four price points for an article; nil means absent.
type ZoneThresholds struct {
	Article string   `json:"article"`
	Green   *float64 `json:"green"`
	Gold    *float64 `json:"gold"`
	Pink    *float64 `json:"pink"`
	Red     *float64 `json:"red"`
}

// Tiers returns the present tiers in canonical order.
func (z ZoneThresholds) Tiers() []Tier {
	out := make([]Tier, 0, 4)
	for i, p := range []*float64{z.Green, z.Gold, z.Pink, z.Red} {
		if p != nil {
			out = append(out, Tier{Name: TierOrder[i], Price: *p})
		}
	}
	return out
}

type BoardList struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CardStatus struct {
	CardID    string    `json:"card_id"`
	ListID    string    `json:"list_id"`
	ListName  string    `json:"list_name"`
	CardName  string    `json:"card_name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MoveEvent is a board action that moved a card between lists.
type MoveEvent struct {
	ActionID     string    `json:"action_id"`
	CardID       string    `json:"card_id"`
	ShortLink    string    `json:"short_link"`
	CardName     string    `json:"card_name"`
	FromListID   string    `json:"from_list_id"`
	FromListName string    `json:"from_list_name"`
	ToListID     string    `json:"to_list_id"`
	ToListName   string    `json:"to_list_name"`
	Date         time.Time `json:"date"`
}

// LeaderLock is the shared election record. Token is bumped on every fresh acquisition.
type LeaderLock struct {
	Timestamp time.Time `json:"timestamp"`
	TabID     string    `json:"tab_id"`
	Token     int64     `json:"token"`
}

type StatusEvent struct {
	CardID string     `json:"card_id"`
	Status CardStatus `json:"status"`
}
