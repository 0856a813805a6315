// Package dlr parses vendor delivery receipts and applies them to the
// message they acknowledge.
package dlr

import (
	"context"
	"log/slog"
	"regexp"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/Yukesh570/SquadBackend/internal/database"
	"github.com/Yukesh570/SquadBackend/internal/logging"
	"github.com/Yukesh570/SquadBackend/pkg/codes"
)

// Receipt text is free-form; only the id: and stat: fields are load-bearing.
var (
	idPattern   = regexp.MustCompile(`id:([A-Za-z0-9]+)`)
	statPattern = regexp.MustCompile(`stat:([A-Z]+)`)
)

// Receipt is the parsed outcome of one deliver_sm receipt.
type Receipt struct {
	VendorMessageID string
	VendorStatus    string
	Status          string
}

// decodeText interprets the receipt bytes as UTF-8 when valid, otherwise
// falls back to Latin-1 so no byte sequence is unrepresentable.
func decodeText(body []byte) string {
	if utf8.Valid(body) {
		return string(body)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}

// mapVendorStatus folds the vendor's stat token into the message lifecycle.
// Unknown tokens stay at sent: the vendor accepted the message and a later
// receipt may still settle it.
func mapVendorStatus(stat string) string {
	switch stat {
	case "DELIVRD":
		return codes.MsgStatusDelivered
	case "UNDELIV", "REJECTD", "EXPIRED":
		return codes.MsgStatusFailed
	default:
		return codes.MsgStatusSent
	}
}

// Parse extracts the tracking id and status from a receipt payload. The
// second return is false when no id field is present, which makes the
// receipt uncorrelatable.
func Parse(body []byte) (Receipt, bool) {
	text := decodeText(body)

	idMatch := idPattern.FindStringSubmatch(text)
	if idMatch == nil {
		return Receipt{}, false
	}

	r := Receipt{VendorMessageID: idMatch[1]}
	if statMatch := statPattern.FindStringSubmatch(text); statMatch != nil {
		r.VendorStatus = statMatch[1]
	}
	r.Status = mapVendorStatus(r.VendorStatus)
	return r, true
}

// Handler applies parsed receipts to the message store.
type Handler struct {
	dbQueries database.Querier
}

func NewHandler(q database.Querier) *Handler {
	return &Handler{dbQueries: q}
}

// Apply correlates a receipt payload with its message and updates the
// message status. Receipts that match nothing are logged and dropped; the
// vendor is never nacked over a stale receipt.
func (h *Handler) Apply(ctx context.Context, body []byte) error {
	receipt, ok := Parse(body)
	if !ok {
		slog.WarnContext(ctx, "delivery receipt without id field", slog.Int("bytes", len(body)))
		return nil
	}

	logCtx := logging.ContextWithVendorMsgID(ctx, receipt.VendorMessageID)
	rows, err := h.dbQueries.UpdateStatusByVendorMessageID(logCtx, receipt.VendorMessageID, receipt.Status)
	if err != nil {
		return err
	}
	if rows == 0 {
		slog.WarnContext(logCtx, "delivery receipt matched no message",
			slog.String("vendor_status", receipt.VendorStatus))
		return nil
	}

	slog.InfoContext(logCtx, "delivery receipt applied",
		slog.String("vendor_status", receipt.VendorStatus),
		slog.String("status", receipt.Status))
	return nil
}
