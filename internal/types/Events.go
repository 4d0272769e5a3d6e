package types

// EventType enumerates the ledger events emitted by operations and recorded
// by the host for audit and analytics.
type EventType string

const (
	EventVaultInitialized     EventType = "VAULT_INITIALIZED"
	EventDepositMade          EventType = "DEPOSIT_MADE"
	EventWithdrawalMade       EventType = "WITHDRAWAL_MADE"
	EventHarvestCompleted     EventType = "HARVEST_COMPLETED"
	EventFeesCollected        EventType = "FEES_COLLECTED"
	EventLeverageAdjusted     EventType = "LEVERAGE_ADJUSTED"
	EventLiquidationExecuted  EventType = "LIQUIDATION_EXECUTED"
	EventRebalanceEvaluated   EventType = "REBALANCE_EVALUATED"
	EventVaultPaused          EventType = "VAULT_PAUSED"
	EventVaultUnpaused        EventType = "VAULT_UNPAUSED"
	EventParamsUpdated        EventType = "PARAMS_UPDATED"
	EventStrategyConfigUpdate EventType = "STRATEGY_CONFIG_UPDATED"
)

// Event is the generic audit record persisted for every state-changing
// operation. Attributes carry the operation-specific quantities as decimal
// strings so the record survives schema changes to the typed results.
type Event struct {
	EventID    int64             `json:"event_id,omitempty"` // Auto-incremented by DB
	Type       EventType         `json:"type"`
	VaultID    VaultID           `json:"vault_id"`
	Owner      string            `json:"owner,omitempty"` // Account involved, if any
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  int64             `json:"timestamp"` // Unix seconds
}

// NewEvent builds an event with an initialized attribute map.
func NewEvent(t EventType, vaultID VaultID, ts int64) Event {
	return Event{
		Type:       t,
		VaultID:    vaultID,
		Attributes: make(map[string]string),
		Timestamp:  ts,
	}
}

// With adds one attribute and returns the event for chaining.
func (e Event) With(key, value string) Event {
	e.Attributes[key] = value
	return e
}
