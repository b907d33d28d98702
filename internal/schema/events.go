package schema

import (
	"encoding/json"
	"fmt"
)

// EventType enumerates every kind of event the swarm can publish.
type EventType string

const (
	EventPriceSpike          EventType = "price_spike"
	EventVolumeAnomaly       EventType = "volume_anomaly"
	EventTechnicalSignal     EventType = "technical_signal"
	EventSentimentShift      EventType = "sentiment_shift"
	EventNewsAlert           EventType = "news_alert"
	EventTradeRecommendation EventType = "trade_recommendation"
	EventRiskAlert           EventType = "risk_alert"
	EventAgentHandoff        EventType = "agent_handoff"
	EventAgentStatus         EventType = "agent_status"
	EventSwarmCycleComplete  EventType = "swarm_cycle_complete"
)

var allEventTypes = map[EventType]struct{}{
	EventPriceSpike:          {},
	EventVolumeAnomaly:       {},
	EventTechnicalSignal:     {},
	EventSentimentShift:      {},
	EventNewsAlert:           {},
	EventTradeRecommendation: {},
	EventRiskAlert:           {},
	EventAgentHandoff:        {},
	EventAgentStatus:         {},
	EventSwarmCycleComplete:  {},
}

func (t EventType) Valid() bool {
	_, ok := allEventTypes[t]
	return ok
}

// EventTypes returns every known event type, for query validation and summaries.
func EventTypes() []EventType {
	out := make([]EventType, 0, len(allEventTypes))
	for t := range allEventTypes {
		out = append(out, t)
	}
	return out
}

// Payload shapes, one per event type. Events carry exactly one of these,
// encoded as JSON; DecodePayload validates at the bus boundary so nothing
// downstream handles untyped maps.

type PriceSpikePayload struct {
	CurrentPrice float64   `json:"current_price"`
	ChangePct    float64   `json:"change_pct"`
	Direction    string    `json:"direction"`
	RecentPrices []float64 `json:"recent_prices,omitempty"`
	AlertLevel   string    `json:"alert_level,omitempty"`
}

type VolumeAnomalyPayload struct {
	CurrentVolume float64 `json:"current_volume"`
	AverageVolume float64 `json:"average_volume"`
	SpikeRatio    float64 `json:"spike_ratio"`
}

type TechnicalSignalPayload struct {
	CurrentPrice float64        `json:"current_price"`
	RSI          float64        `json:"rsi"`
	SMA20        float64        `json:"sma_20,omitempty"`
	SMA50        float64        `json:"sma_50,omitempty"`
	MACDLine     float64        `json:"macd_line,omitempty"`
	MACDSignal   float64        `json:"macd_signal,omitempty"`
	ATR          float64        `json:"atr_14,omitempty"`
	VWAP         float64        `json:"vwap,omitempty"`
	Bollinger    *BollingerBand `json:"bollinger,omitempty"`
	Bias         string         `json:"bias"`
	Confidence   float64        `json:"confidence"`
}

type BollingerBand struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// SentimentPayload backs both sentiment_shift and news_alert events.
type SentimentPayload struct {
	SentimentScore   float64  `json:"sentiment_score"`
	SentimentLabel   string   `json:"sentiment_label"`
	ArticlesAnalyzed int      `json:"articles_analyzed"`
	TopHeadlines     []string `json:"top_headlines,omitempty"`
}

type RecommendationPayload struct {
	SignalID    string  `json:"signal_id"`
	Action      Action  `json:"action"`
	Confidence  float64 `json:"confidence"`
	PriceTarget float64 `json:"price_target,omitempty"`
	StopLoss    float64 `json:"stop_loss,omitempty"`
	Reasoning   string  `json:"reasoning,omitempty"`
}

type RiskAlertPayload struct {
	SignalID           string   `json:"signal_id"`
	Verdict            Verdict  `json:"verdict"`
	Approved           bool     `json:"approved"`
	Warnings           []string `json:"warnings,omitempty"`
	OriginalConfidence float64  `json:"original_confidence"`
}

type HandoffPayload struct {
	Stage     string `json:"stage"`
	RequestID string `json:"request_id,omitempty"`
	Version   uint64 `json:"version,omitempty"`
	Note      string `json:"note,omitempty"`
}

type AgentStatusPayload struct {
	Role           AgentRole  `json:"role"`
	State          AgentState `json:"state"`
	Action         string     `json:"action,omitempty"`
	TasksCompleted uint64     `json:"tasks_completed"`
	CurrentTask    string     `json:"current_task,omitempty"`
	Error          string     `json:"error,omitempty"`
}

type CycleCompletePayload struct {
	RequestID string  `json:"request_id"`
	SignalID  string  `json:"signal_id,omitempty"`
	ReportID  string  `json:"report_id,omitempty"`
	Verdict   Verdict `json:"verdict,omitempty"`
	Elapsed   string  `json:"elapsed,omitempty"`
}

// DecodePayload unmarshals raw payload bytes into the struct that belongs to
// the given event type. Unknown types are rejected so malformed events never
// reach the durable log.
func DecodePayload(t EventType, raw json.RawMessage) (any, error) {
	var dst any
	switch t {
	case EventPriceSpike:
		dst = &PriceSpikePayload{}
	case EventVolumeAnomaly:
		dst = &VolumeAnomalyPayload{}
	case EventTechnicalSignal:
		dst = &TechnicalSignalPayload{}
	case EventSentimentShift, EventNewsAlert:
		dst = &SentimentPayload{}
	case EventTradeRecommendation:
		dst = &RecommendationPayload{}
	case EventRiskAlert:
		dst = &RiskAlertPayload{}
	case EventAgentHandoff:
		dst = &HandoffPayload{}
	case EventAgentStatus:
		dst = &AgentStatusPayload{}
	case EventSwarmCycleComplete:
		dst = &CycleCompletePayload{}
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	if len(raw) == 0 {
		return dst, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return dst, nil
}
