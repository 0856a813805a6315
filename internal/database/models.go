// Package database is the engine's view of the platform's configuration and
// message tables. The CRUD/REST layer owns these rows; the engine reads
// configuration (clients, vendors, gateways, routes) and creates/updates
// message rows through the Querier interface.
package database

import (
	"time"

	"github.com/shopspring/decimal"
)

// Client is a tenant's bind credential row.
type Client struct {
	ID                 int64
	Name               string
	CompanyID          int64
	Status             string
	SMPPUsername       string
	SMPPPassword       string
	CreditLimit        decimal.Decimal
	BalanceAlertAmount decimal.Decimal
	IsDeleted          bool
}

// Vendor is an upstream carrier profile, optionally linked to a gateway.
type Vendor struct {
	ID             int64
	ProfileName    string
	CompanyID      int64
	ConnectionType string
	GatewayID      *int64
	IsDeleted      bool
}

// GatewayConfig holds the bind parameters of one vendor SMPP gateway.
type GatewayConfig struct {
	ID        int64
	Host      string
	Port      int32
	SystemID  string
	Password  string
	BindMode  string
	SourceTON int32
	SourceNPI int32
	DestTON   int32
	DestNPI   int32
	IsDeleted bool
}

// Route maps an originating client to a terminating vendor. Resolution takes
// the first ACTIVE, non-deleted route for the client; the priority column is
// stored but not consulted.
type Route struct {
	ID                  int64
	Name                string
	OriginatingClientID int64
	CountryID           *int64
	OperatorID          *int64
	TerminatingVendorID int64
	Priority            *string
	Status              string
	IsDeleted           bool
}

// SMSMessage is one persisted submission. SystemID carries the submit's
// source address (the client's sender id), reused as the outbound
// source_addr. VendorMessageID stays nil until the vendor acknowledges the
// first part.
type SMSMessage struct {
	ID              int64
	Destination     string
	Text            string
	Status          string
	VendorMessageID *string
	SystemID        *string
	ClientID        *int64
	VendorID        *int64
	GatewayID       *int64
	Encoding        *string
	SegmentCount    *string
	CharacterCount  *string
	IsDeleted       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateQueuedMessageParams carries everything recorded at enqueue time.
type CreateQueuedMessageParams struct {
	Destination    string
	Text           string
	SystemID       *string
	ClientID       *int64
	VendorID       *int64
	GatewayID      *int64
	Encoding       *string
	SegmentCount   *string
	CharacterCount *string
}
