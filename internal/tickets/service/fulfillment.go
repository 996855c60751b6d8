package tickets

import (
	"context"
	"fmt"
	"time"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/signer"

	"github.com/google/uuid"
)

type FulfillmentDB interface {
	GetTicketType(ctx context.Context, id string) (*models.TicketType, error)
	ExistingTicketSequences(ctx context.Context, orderItemID string) (map[int]bool, error)
	InsertTicket(ctx context.Context, ticket *models.Ticket) (bool, error)
	PpvExistsForItem(ctx context.Context, orderItemID string) (bool, error)
	InsertPpvPurchase(ctx context.Context, p *models.PpvPurchase) (bool, error)
	RevokeOrderEntitlements(ctx context.Context, orderID string, at time.Time) (int, error)
}

type TicketTokenIssuer interface {
	IssueTicketToken(claims signer.TicketClaims) (string, signer.TicketClaims, error)
}

// FulfillmentService turns a completed order into tickets or PPV purchases.
// Every run is safe to repeat: slots that already exist are counted, not rewritten.
type FulfillmentService struct {
	DB     FulfillmentDB
	Signer TicketTokenIssuer
	Logger *logger.Logger
	now    func() time.Time
}

func NewFulfillmentService(db FulfillmentDB, s TicketTokenIssuer, log *logger.Logger) *FulfillmentService {
	return &FulfillmentService{
		DB:     db,
		Signer: s,
		Logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// FulfillTicketOrder creates one ticket per purchased unit. The report says
// how many were requested, created now and found from an earlier run.
func (s *FulfillmentService) FulfillTicketOrder(ctx context.Context, order *models.Order) (*models.FulfillmentReport, error) {
	report := &models.FulfillmentReport{OrderID: order.ID}

	for _, item := range order.Items {
		if item.ItemType != models.OrderKindTicket {
			continue
		}
		report.Requested += item.Quantity

		tt, err := s.DB.GetTicketType(ctx, item.ItemID)
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("item %s: ticket type %s: %v", item.ID, item.ItemID, err))
			continue
		}

		existing, err := s.DB.ExistingTicketSequences(ctx, item.ID)
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("item %s: read issued tickets: %v", item.ID, err))
			continue
		}

		for seq := 1; seq <= item.Quantity; seq++ {
			if existing[seq] {
				report.Existing++
				continue
			}
			inserted, err := s.issueTicket(ctx, order, item, tt, seq)
			switch {
			case err != nil:
				report.Failures = append(report.Failures, fmt.Sprintf("item %s seq %d: %v", item.ID, seq, err))
			case inserted:
				report.Created++
			default:
				report.Existing++
			}
		}
	}

	if report.Requested == 0 {
		return report, fmt.Errorf("order %s has no ticket items", order.ID)
	}

	s.Logger.LogFulfillment("TICKETS", order.ID, fmt.Sprintf("requested %d, created %d, existing %d, failed %d",
		report.Requested, report.Created, report.Existing, len(report.Failures)))
	return report, nil
}

func (s *FulfillmentService) issueTicket(ctx context.Context, order *models.Order, item *models.OrderItem, tt *models.TicketType, seq int) (bool, error) {
	ticketID := uuid.NewString()
	token, claims, err := s.Signer.IssueTicketToken(signer.TicketClaims{
		TicketID:     ticketID,
		OrderID:      order.ID,
		OrderItemID:  item.ID,
		Sequence:     seq,
		UserID:       order.UserID,
		EventID:      tt.EventID,
		TicketTypeID: tt.ID,
	})
	if err != nil {
		return false, fmt.Errorf("sign ticket: %w", err)
	}

	return s.DB.InsertTicket(ctx, &models.Ticket{
		ID:            ticketID,
		OrderID:       order.ID,
		OrderItemID:   item.ID,
		Sequence:      seq,
		UserID:        order.UserID,
		EventID:       tt.EventID,
		TicketTypeID:  tt.ID,
		UnitPrice:     item.UnitPrice,
		PaymentStatus: models.EntitlementStatusCompleted,
		QRPayload:     token,
		ManualCode:    signer.ManualCode(ticketID),
		IssuedAt:      claims.IssuedTime(),
	})
}

// FulfillPpvOrder creates one purchase per PPV item. A quantity other than 1
// is reported as a shortfall rather than collapsed.
func (s *FulfillmentService) FulfillPpvOrder(ctx context.Context, order *models.Order) (*models.FulfillmentReport, error) {
	report := &models.FulfillmentReport{OrderID: order.ID}
	now := s.now()

	for _, item := range order.Items {
		if item.ItemType != models.OrderKindPPV {
			continue
		}
		report.Requested += item.Quantity
		if item.Quantity != 1 {
			report.Failures = append(report.Failures, fmt.Sprintf("item %s: pay-per-view quantity %d, expected 1", item.ID, item.Quantity))
		}

		exists, err := s.DB.PpvExistsForItem(ctx, item.ID)
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("item %s: read purchase: %v", item.ID, err))
			continue
		}
		if exists {
			report.Existing++
			continue
		}

		inserted, err := s.DB.InsertPpvPurchase(ctx, &models.PpvPurchase{
			ID:            uuid.NewString(),
			UserID:        order.UserID,
			EventID:       item.ItemID,
			OrderID:       order.ID,
			OrderItemID:   item.ID,
			Price:         item.UnitPrice,
			PaymentStatus: models.EntitlementStatusCompleted,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		switch {
		case err != nil:
			report.Failures = append(report.Failures, fmt.Sprintf("item %s: insert purchase: %v", item.ID, err))
		case inserted:
			report.Created++
		default:
			report.Existing++
		}
	}

	if report.Requested == 0 {
		return report, fmt.Errorf("order %s has no pay-per-view items", order.ID)
	}

	s.Logger.LogFulfillment("PPV", order.ID, fmt.Sprintf("requested %d, created %d, existing %d, failed %d",
		report.Requested, report.Created, report.Existing, len(report.Failures)))
	return report, nil
}

// RevokeOrderEntitlements withdraws everything an order granted. Live stream
// tokens stop verifying as soon as their purchase is no longer completed.
func (s *FulfillmentService) RevokeOrderEntitlements(ctx context.Context, orderID string) (int, error) {
	return s.DB.RevokeOrderEntitlements(ctx, orderID, s.now())
}
