package evidence

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxnType is the direction of a transaction relative to the customer.
type TxnType string

const (
	TxnCredit TxnType = "credit"
	TxnDebit  TxnType = "debit"
)

// Evidence object types.
const (
	TypeCustomerProfile    = "customer_profile"
	TypeTransactionSummary = "transaction_summary"
	TypeHighValue          = "high_value_transaction"
	TypeInternational      = "international_transfer"
	TypeAlert              = "alert"
)

// RawCase is the typed input contract accepted at the pipeline boundary.
type RawCase struct {
	CaseID       string        `json:"case_id" validate:"required"`
	Customer     Customer      `json:"customer"`
	KYC          KYC           `json:"kyc"`
	Accounts     []Account     `json:"accounts" validate:"dive"`
	Transactions []Transaction `json:"transactions" validate:"dive"`
	Alerts       []Alert       `json:"alerts" validate:"dive"`
}

type Customer struct {
	CustomerID     string          `json:"customer_id" validate:"required"`
	Name           string          `json:"name,omitempty"`
	PAN            string          `json:"pan,omitempty"`
	AnnualIncome   decimal.Decimal `json:"annual_income" validate:"gte=0"`
	Occupation     string          `json:"occupation,omitempty"`
	RiskRating     string          `json:"risk_rating,omitempty" validate:"omitempty,oneof=low medium high"`
	Segment        string          `json:"segment,omitempty"`
	OnboardingDate string          `json:"onboarding_date,omitempty"`
}

type KYC struct {
	PEP            bool   `json:"pep"`
	SanctionsMatch bool   `json:"sanctions_match"`
	AdverseMedia   bool   `json:"adverse_media"`
	RiskScore      int    `json:"risk_score" validate:"gte=0,lte=100"`
	Status         string `json:"status,omitempty"`
}

type Account struct {
	AccountID   string          `json:"account_id" validate:"required"`
	Type        string          `json:"type,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
	OpeningDate string          `json:"opening_date,omitempty"`
}

type Transaction struct {
	TransactionID       string          `json:"transaction_id" validate:"required"`
	AccountID           string          `json:"account_id,omitempty"`
	Amount              decimal.Decimal `json:"amount" validate:"gte=0"`
	TxnType             TxnType         `json:"txn_type" validate:"required,oneof=credit debit"`
	Timestamp           time.Time       `json:"timestamp" validate:"required"`
	CounterpartyAccount string          `json:"counterparty_account,omitempty"`
	CounterpartyCountry string          `json:"counterparty_country,omitempty"`
	Channel             string          `json:"channel,omitempty"`
}

type Alert struct {
	AlertID     string    `json:"alert_id" validate:"required"`
	AlertType   string    `json:"alert_type,omitempty"`
	Severity    string    `json:"severity,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Aggregates are the case-level figures the rule engine thresholds compare against.
type Aggregates struct {
	TotalTransactions    int             `json:"total_transactions"`
	TotalCredit          decimal.Decimal `json:"total_credit"`
	TotalDebit           decimal.Decimal `json:"total_debit"`
	UniqueCounterparties int             `json:"unique_counterparties"`
	UniqueCountries      int             `json:"unique_countries"`
	AvgTransactionAmount decimal.Decimal `json:"avg_transaction_amount"`
	MaxTransactionAmount decimal.Decimal `json:"max_transaction_amount"`
	DateRangeDays        int             `json:"date_range_days"`
}

// Item is an immutable piece of evidence. Claims reference items by id.
type Item struct {
	EvidenceID      string    `json:"evidence_id" validate:"required"`
	PrimaryKey      string    `json:"primary_key" validate:"required"`
	Type            string    `json:"type" validate:"required"`
	Timestamp       time.Time `json:"timestamp"`
	FeaturesUsed    []string  `json:"features_used"`
	RawValue        any       `json:"raw_value"`
	NormalizedValue any       `json:"normalized_value"`
}

// NormalizedData is the flat view of a case consumed by detection.
type NormalizedData struct {
	CaseID          string        `json:"case_id" validate:"required"`
	Customer        Customer      `json:"customer"`
	KYC             KYC           `json:"kyc"`
	Accounts        []Account     `json:"accounts" validate:"dive"`
	Transactions    []Transaction `json:"transactions" validate:"dive"`
	Alerts          []Alert       `json:"alerts" validate:"dive"`
	Aggregates      Aggregates    `json:"aggregates"`
	EvidenceObjects []Item        `json:"evidence_objects" validate:"dive"`
}

// AlertIDs returns the case alert ids in input order.
func (n *NormalizedData) AlertIDs() []string {
	ids := make([]string, 0, len(n.Alerts))
	for _, a := range n.Alerts {
		ids = append(ids, a.AlertID)
	}
	return ids
}

// EvidenceIDs returns the ids of every evidence object.
func (n *NormalizedData) EvidenceIDs() []string {
	ids := make([]string, 0, len(n.EvidenceObjects))
	for _, e := range n.EvidenceObjects {
		ids = append(ids, e.EvidenceID)
	}
	return ids
}
