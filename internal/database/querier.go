package database

import "context"

// Querier is the store contract the engine components depend on. Every call
// is expected to be bounded by the caller's context; implementations must not
// block past context cancellation.
type Querier interface {
	// GetClientByCredentials looks up an active, non-deleted client by exact
	// bind credential match. Returns pgx.ErrNoRows when absent.
	GetClientByCredentials(ctx context.Context, systemID, password string) (Client, error)

	// GetActiveRouteForClient returns the first ACTIVE, non-deleted route
	// originating from the client, ordered by primary key.
	GetActiveRouteForClient(ctx context.Context, clientID int64) (Route, error)

	// GetVendor reads a vendor row by id.
	GetVendor(ctx context.Context, id int64) (Vendor, error)

	// GetGatewayConfig reads a gateway configuration row by id.
	GetGatewayConfig(ctx context.Context, id int64) (GatewayConfig, error)

	// CreateQueuedMessage persists a new message in queued status and
	// returns its id.
	CreateQueuedMessage(ctx context.Context, params CreateQueuedMessageParams) (int64, error)

	// GetQueuedMessages fetches up to limit queued messages, oldest first.
	GetQueuedMessages(ctx context.Context, limit int32) ([]SMSMessage, error)

	// MarkMessageSent transitions a queued message to sent.
	MarkMessageSent(ctx context.Context, id int64) error

	// MarkMessageFailed transitions a non-terminal message to failed.
	MarkMessageFailed(ctx context.Context, id int64) error

	// SetVendorMessageID records the vendor-assigned tracking id, only if
	// none has been recorded yet (first ack wins).
	SetVendorMessageID(ctx context.Context, id int64, vendorMessageID string) error

	// UpdateStatusByVendorMessageID applies a DLR outcome to the message
	// carrying this vendor id. Returns the number of rows updated; zero is
	// not an error.
	UpdateStatusByVendorMessageID(ctx context.Context, vendorMessageID, status string) (int64, error)
}
