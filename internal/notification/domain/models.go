package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/notifier/internal/clock"
)

type Campaign string

const (
	CampaignOverdueInvoices  Campaign = "overdue_invoices"
	CampaignInactiveAccounts Campaign = "inactive_accounts"
)

// Campaigns lists every campaign in run order.
var Campaigns = []Campaign{CampaignOverdueInvoices, CampaignInactiveAccounts}

func ParseCampaign(raw string) (Campaign, error) {
	switch Campaign(raw) {
	case CampaignOverdueInvoices, CampaignInactiveAccounts:
		return Campaign(raw), nil
	default:
		return "", ErrUnknownCampaign
	}
}

type EntityKind string

const (
	EntityInvoice EntityKind = "invoice"
	EntityAccount EntityKind = "account"
)

// EntityKindFor reports which entity type a campaign tracks.
func EntityKindFor(c Campaign) EntityKind {
	if c == CampaignInactiveAccounts {
		return EntityAccount
	}
	return EntityInvoice
}

type InvoiceStatus string

const (
	InvoiceStatusDraft InvoiceStatus = "draft"
	InvoiceStatusSent  InvoiceStatus = "sent"
	InvoiceStatusPaid  InvoiceStatus = "paid"
	InvoiceStatusVoid  InvoiceStatus = "void"
)

// TenantPolicy is an organization's setting for one campaign.
type TenantPolicy struct {
	OrgID    snowflake.ID
	Name     string
	Timezone string
	Enabled  bool
}

// Candidate is a snapshot of a trackable entity taken at selection time.
type Candidate struct {
	ID         snowflake.ID
	OrgID      snowflake.ID
	Kind       EntityKind
	AnchorDate clock.Date
	AnchorAt   time.Time
	Step       int
	LastSentAt *time.Time

	ContactEmail string
	ContactName  string
	Reference    string
	AmountDue    int64
	Currency     string
}

// AgeDays is the number of tenant-local days between the anchor and today.
func (c Candidate) AgeDays(today clock.Date) int {
	return today.DaysSince(c.AnchorDate)
}

type SenderProfile struct {
	OrgID    snowflake.ID
	OrgName  string
	FromName string
	ReplyTo  string
}
