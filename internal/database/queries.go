package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check
var _ Querier = (*Queries)(nil)

// Queries implements Querier against the platform's Postgres schema. Column
// names are quoted because the owning application created them camel-cased.
type Queries struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

const getClientByCredentials = `
SELECT id, name, company_id, status, "smppUsername", "smppPassword",
       "creditLimit", "balanceAlertAmount", "isDeleted"
FROM "squadServices_client"
WHERE "smppUsername" = $1 AND "smppPassword" = $2 AND "isDeleted" = false
LIMIT 1
`

func (q *Queries) GetClientByCredentials(ctx context.Context, systemID, password string) (Client, error) {
	var c Client
	err := q.pool.QueryRow(ctx, getClientByCredentials, systemID, password).Scan(
		&c.ID, &c.Name, &c.CompanyID, &c.Status, &c.SMPPUsername, &c.SMPPPassword,
		&c.CreditLimit, &c.BalanceAlertAmount, &c.IsDeleted,
	)
	return c, err
}

const getActiveRouteForClient = `
SELECT id, name, "orginatingClient_id", country_id, operator_id,
       "terminatingVendor_id", priority, status, "isDeleted"
FROM "squadServices_customroute"
WHERE "orginatingClient_id" = $1 AND status = 'ACTIVE' AND "isDeleted" = false
ORDER BY id
LIMIT 1
`

func (q *Queries) GetActiveRouteForClient(ctx context.Context, clientID int64) (Route, error) {
	var r Route
	err := q.pool.QueryRow(ctx, getActiveRouteForClient, clientID).Scan(
		&r.ID, &r.Name, &r.OriginatingClientID, &r.CountryID, &r.OperatorID,
		&r.TerminatingVendorID, &r.Priority, &r.Status, &r.IsDeleted,
	)
	return r, err
}

const getVendor = `
SELECT id, "profileName", company_id, "connectionType", smpp_id, "isDeleted"
FROM "squadServices_vendor"
WHERE id = $1
`

func (q *Queries) GetVendor(ctx context.Context, id int64) (Vendor, error) {
	var v Vendor
	err := q.pool.QueryRow(ctx, getVendor, id).Scan(
		&v.ID, &v.ProfileName, &v.CompanyID, &v.ConnectionType, &v.GatewayID, &v.IsDeleted,
	)
	return v, err
}

const getGatewayConfig = `
SELECT id, "smppHost", "smppPort", "systemID", password, "bindMode",
       "sourceTON", "sourceNPI", "destTON", "destNPI", "isDeleted"
FROM "squadServices_smpp"
WHERE id = $1
`

func (q *Queries) GetGatewayConfig(ctx context.Context, id int64) (GatewayConfig, error) {
	var g GatewayConfig
	err := q.pool.QueryRow(ctx, getGatewayConfig, id).Scan(
		&g.ID, &g.Host, &g.Port, &g.SystemID, &g.Password, &g.BindMode,
		&g.SourceTON, &g.SourceNPI, &g.DestTON, &g.DestNPI, &g.IsDeleted,
	)
	return g, err
}

const createQueuedMessage = `
INSERT INTO "squadServices_smsmessage" (
	destination, text, status, message_id, "systemId", client_id, vendor_id,
	smpp_id, encoding, "segmentNumber", "characterCount", "isDeleted",
	"createdAt", "updatedAt"
) VALUES ($1, $2, 'queued', NULL, $3, $4, $5, $6, $7, $8, $9, false, now(), now())
RETURNING id
`

func (q *Queries) CreateQueuedMessage(ctx context.Context, params CreateQueuedMessageParams) (int64, error) {
	var id int64
	err := q.pool.QueryRow(ctx, createQueuedMessage,
		params.Destination, params.Text, params.SystemID, params.ClientID,
		params.VendorID, params.GatewayID, params.Encoding,
		params.SegmentCount, params.CharacterCount,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create queued message: %w", err)
	}
	return id, nil
}

const getQueuedMessages = `
SELECT id, destination, text, status, message_id, "systemId", client_id,
       vendor_id, smpp_id, encoding, "segmentNumber", "characterCount",
       "isDeleted", "createdAt", "updatedAt"
FROM "squadServices_smsmessage"
WHERE status = 'queued' AND "isDeleted" = false
ORDER BY "createdAt"
LIMIT $1
`

func (q *Queries) GetQueuedMessages(ctx context.Context, limit int32) ([]SMSMessage, error) {
	rows, err := q.pool.Query(ctx, getQueuedMessages, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []SMSMessage
	for rows.Next() {
		var m SMSMessage
		if err := rows.Scan(
			&m.ID, &m.Destination, &m.Text, &m.Status, &m.VendorMessageID,
			&m.SystemID, &m.ClientID, &m.VendorID, &m.GatewayID, &m.Encoding,
			&m.SegmentCount, &m.CharacterCount, &m.IsDeleted, &m.CreatedAt,
			&m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Status transitions guard monotonicity in SQL so that a late DLR or a slow
// worker can never move a message backwards.

const markMessageSent = `
UPDATE "squadServices_smsmessage"
SET status = 'sent', "updatedAt" = now()
WHERE id = $1 AND status = 'queued'
`

func (q *Queries) MarkMessageSent(ctx context.Context, id int64) error {
	_, err := q.pool.Exec(ctx, markMessageSent, id)
	return err
}

const markMessageFailed = `
UPDATE "squadServices_smsmessage"
SET status = 'failed', "updatedAt" = now()
WHERE id = $1 AND status NOT IN ('delivered', 'failed')
`

func (q *Queries) MarkMessageFailed(ctx context.Context, id int64) error {
	_, err := q.pool.Exec(ctx, markMessageFailed, id)
	return err
}

const setVendorMessageID = `
UPDATE "squadServices_smsmessage"
SET message_id = $2, "updatedAt" = now()
WHERE id = $1 AND message_id IS NULL
`

func (q *Queries) SetVendorMessageID(ctx context.Context, id int64, vendorMessageID string) error {
	_, err := q.pool.Exec(ctx, setVendorMessageID, id, vendorMessageID)
	return err
}

const updateStatusByVendorMessageID = `
UPDATE "squadServices_smsmessage"
SET status = $2, "updatedAt" = now()
WHERE message_id = $1 AND status NOT IN ('delivered', 'failed')
`

func (q *Queries) UpdateStatusByVendorMessageID(ctx context.Context, vendorMessageID, status string) (int64, error) {
	tag, err := q.pool.Exec(ctx, updateStatusByVendorMessageID, vendorMessageID, status)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
