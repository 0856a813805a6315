// Package routing resolves inbound bind credentials to the vendor gateway
// that will carry the client's traffic.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Yukesh570/SquadBackend/internal/database"
	"github.com/Yukesh570/SquadBackend/internal/logging"
	"github.com/Yukesh570/SquadBackend/internal/notification"
)

// Resolution is the outcome of a successful authentication. Vendor and
// Gateway stay nil when the client is valid but no deliverable route exists;
// submissions from such a client enqueue unrouted and fail at send time.
type Resolution struct {
	Client  database.Client
	Vendor  *database.Vendor
	Gateway *database.GatewayConfig
}

// Routed reports whether the resolution carries a deliverable gateway.
func (r *Resolution) Routed() bool {
	return r != nil && r.Gateway != nil
}

// Resolver authenticates bind credentials and resolves the client's route.
type Resolver struct {
	dbQueries    database.Querier
	notifier     notification.Notifier
	storeTimeout time.Duration
}

func NewResolver(q database.Querier, notifier notification.Notifier, storeTimeout time.Duration) *Resolver {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Resolver{dbQueries: q, notifier: notifier, storeTimeout: storeTimeout}
}

// Resolve authenticates the credential pair by exact match and walks
// client -> first active route -> terminating vendor -> gateway config.
// A nil Resolution with a nil error means authentication failed.
func (r *Resolver) Resolve(ctx context.Context, systemID, password string) (*Resolution, error) {
	logCtx := logging.ContextWithSystemID(ctx, systemID)

	storeCtx, cancel := context.WithTimeout(logCtx, r.storeTimeout)
	defer cancel()

	client, err := r.dbQueries.GetClientByCredentials(storeCtx, systemID, password)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			slog.WarnContext(logCtx, "bind rejected: unknown credentials")
			return nil, nil
		}
		return nil, fmt.Errorf("client lookup: %w", err)
	}
	logCtx = logging.ContextWithClientID(logCtx, client.ID)

	r.checkCreditHeadroom(logCtx, client)

	res := &Resolution{Client: client}

	route, err := r.dbQueries.GetActiveRouteForClient(storeCtx, client.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			slog.WarnContext(logCtx, "client authenticated but has no active route")
			return res, nil
		}
		return nil, fmt.Errorf("route lookup for client %d: %w", client.ID, err)
	}

	vendor, err := r.dbQueries.GetVendor(storeCtx, route.TerminatingVendorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			slog.WarnContext(logCtx, "route points at missing vendor", slog.Int64("vendor_id", route.TerminatingVendorID))
			return res, nil
		}
		return nil, fmt.Errorf("vendor lookup %d: %w", route.TerminatingVendorID, err)
	}
	res.Vendor = &vendor

	if vendor.GatewayID == nil {
		slog.WarnContext(logCtx, "terminating vendor has no gateway configured",
			slog.Int64("vendor_id", vendor.ID))
		return res, nil
	}

	gateway, err := r.dbQueries.GetGatewayConfig(storeCtx, *vendor.GatewayID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			slog.WarnContext(logCtx, "vendor gateway config missing", slog.Int64("gateway_id", *vendor.GatewayID))
			return res, nil
		}
		return nil, fmt.Errorf("gateway lookup %d: %w", *vendor.GatewayID, err)
	}
	res.Gateway = &gateway

	slog.InfoContext(logCtx, "route resolved",
		slog.String("vendor", vendor.ProfileName),
		slog.Int64("gateway_id", gateway.ID))
	return res, nil
}

// checkCreditHeadroom raises an alert when the client's remaining credit
// headroom sits at or below their configured alert amount.
func (r *Resolver) checkCreditHeadroom(ctx context.Context, client database.Client) {
	if r.notifier == nil || !client.BalanceAlertAmount.IsPositive() {
		return
	}
	if client.CreditLimit.LessThanOrEqual(client.BalanceAlertAmount) {
		subject := fmt.Sprintf("Low credit headroom for client %s", client.Name)
		body := fmt.Sprintf("Credit limit %s is at or below the alert amount %s.",
			client.CreditLimit.String(), client.BalanceAlertAmount.String())
		if err := r.notifier.Notify(ctx, subject, body); err != nil {
			slog.WarnContext(ctx, "credit alert notification failed", slog.Any("error", err))
		}
	}
}
