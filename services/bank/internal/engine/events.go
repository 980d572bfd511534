package engine

import "github.com/lean98av/kipubank/libs/kafka"

const (
	EventTypeDepositMade    = "bank.deposit.made"
	EventTypeWithdrawalMade = "bank.withdrawal.made"
	EventTypeCatalogChanged = "bank.catalog.changed"
)

type BalanceMovedEvent struct {
	kafka.Envelope
	Principal     string `json:"principal"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	AmountDisplay string `json:"amount_display"`
}

type CatalogChangedEvent struct {
	kafka.Envelope
	Asset      string `json:"asset"`
	Supported  bool   `json:"supported"`
	ValueScale uint8  `json:"value_scale"`
	OracleRef  string `json:"oracle_ref"`
}
