package audit

import (
	"context"
	"encoding/json"
	"time"

	"commerce-core/internal/models"
	"commerce-core/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"
)

// Action types recorded against the audit trail.
const (
	ActionOrderCreated     = "order.created"
	ActionOrderStatus      = "order.status_changed"
	ActionOrderDeleted     = "order.deleted"
	ActionPaymentProcessed = "payment.processed"
	ActionPaymentFlagged   = "payment.flagged"
	ActionPaymentVerified  = "payment.verified"
	ActionPaymentRefunded  = "payment.refunded"
)

type auditStore interface {
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// Recorder writes the tenant audit trail. Recording is best effort: a
// failed write is logged and never fails the operation being audited.
type Recorder struct {
	store  auditStore
	logger *zap.Logger
	now    func() time.Time
}

func NewRecorder(store auditStore) *Recorder {
	return &Recorder{
		store:  store,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// Record persists one audit entry. Callers must mask sensitive values in
// details before passing them in; Record stores what it is given.
func (r *Recorder) Record(ctx context.Context, sellerID uuid.UUID, actionType, resourceType, resourceID, actorID string, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		r.logger.Error("failed to encode audit details",
			zap.String("action_type", actionType),
			zap.Error(err))
		payload = []byte("{}")
	}

	entry := &models.AuditLog{
		ID:           uuid.New(),
		SellerID:     sellerID,
		ActionType:   actionType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		ActorID:      actorID,
		Details:      types.JSONText(payload),
		CreatedAt:    r.now().UTC(),
	}

	if err := r.store.CreateAuditLog(ctx, entry); err != nil {
		r.logger.Error("failed to write audit log",
			zap.String("action_type", actionType),
			zap.String("resource_type", resourceType),
			zap.String("resource_id", resourceID),
			zap.Error(err))
	}
}
