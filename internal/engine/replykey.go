package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gulfdesk/replyengine/internal/models"
)

// ComputeReplyKey derives the deterministic idempotency key for a planned
// reply. Identical (conversation, inbound message, action, template, question)
// tuples always hash to the same key; this is the primitive behind the
// at-most-once reply guarantee.
func ComputeReplyKey(conversationID, inboundMessageID int64, action models.Action, templateKey models.TemplateKey, questionKey string) string {
	payload := strings.Join([]string{
		fmt.Sprintf("%d", conversationID),
		fmt.Sprintf("%d", inboundMessageID),
		string(action),
		string(templateKey),
		questionKey,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
