package tickets

import (
	"context"
	"fmt"

	"ms-checkout/internal/apperrors"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/signer"
	"ms-checkout/internal/tickets/db"
)

type TicketDBLayer interface {
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	ListTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error)
	ListTicketsByUser(ctx context.Context, userID string) ([]models.Ticket, error)
}

type TicketTokenVerifier interface {
	VerifyTicketToken(token string) (*signer.TicketClaims, error)
}

type QREncoder interface {
	EncodePNG(token string) ([]byte, error)
}

type TicketService struct {
	DB     TicketDBLayer
	Signer TicketTokenVerifier
	QR     QREncoder
	Logger *logger.Logger
}

func NewTicketService(d TicketDBLayer, s TicketTokenVerifier, qr QREncoder, log *logger.Logger) *TicketService {
	return &TicketService{DB: d, Signer: s, QR: qr, Logger: log}
}

// GetTicketForUser hides tickets of other users behind NotFound.
func (s *TicketService) GetTicketForUser(ctx context.Context, ticketID, userID string) (*models.Ticket, error) {
	const op = "tickets.GetTicket"

	ticket, err := s.DB.GetTicketByID(ctx, ticketID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperrors.NotFound(op, "ticket %s not found", ticketID)
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, op, err, "load ticket %s", ticketID)
	}
	if ticket.UserID != userID {
		return nil, apperrors.NotFound(op, "ticket %s not found", ticketID)
	}
	return ticket, nil
}

func (s *TicketService) ListUserTickets(ctx context.Context, userID string) ([]models.Ticket, error) {
	tickets, err := s.DB.ListTicketsByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "tickets.ListUserTickets", err, "list tickets")
	}
	return tickets, nil
}

func (s *TicketService) ListOrderTickets(ctx context.Context, orderID string) ([]models.Ticket, error) {
	tickets, err := s.DB.ListTicketsByOrder(ctx, orderID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "tickets.ListOrderTickets", err, "list tickets")
	}
	return tickets, nil
}

// RenderQR returns the PNG QR code of a ticket owned by userID.
func (s *TicketService) RenderQR(ctx context.Context, ticketID, userID string) ([]byte, error) {
	ticket, err := s.GetTicketForUser(ctx, ticketID, userID)
	if err != nil {
		return nil, err
	}
	png, err := s.QR.EncodePNG(ticket.QRPayload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "tickets.RenderQR", err, "render QR for %s", ticketID)
	}
	return png, nil
}

// ScanTicket verifies a scanned QR token and reports whether the holder may
// enter. It does not check the ticket in.
func (s *TicketService) ScanTicket(ctx context.Context, qrData string) (*models.ScanResult, error) {
	const op = "tickets.ScanTicket"

	if qrData == "" {
		return nil, apperrors.Validation(op, map[string]string{"qrData": "is required"})
	}

	claims, err := s.Signer.VerifyTicketToken(qrData)
	if err != nil {
		s.Logger.LogSecurity("TICKET_SCAN", fmt.Sprintf("rejected QR token: %v", err))
		return nil, err
	}

	ticket, err := s.DB.GetTicketByID(ctx, claims.TicketID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperrors.NotFound(op, "ticket %s not found", claims.TicketID)
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, op, err, "load ticket %s", claims.TicketID)
	}
	if ticket.OrderID != claims.OrderID || ticket.UserID != claims.UserID {
		s.Logger.LogSecurity("TICKET_SCAN", fmt.Sprintf("token claims do not match ticket %s", ticket.ID))
		return nil, apperrors.Signature(op, "token does not match ticket record")
	}

	switch {
	case ticket.PaymentStatus != models.EntitlementStatusCompleted:
		return &models.ScanResult{Status: models.ScanStatusUnpaid, Message: "Ticket payment is not completed", Ticket: ticket}, nil
	case ticket.CheckedIn:
		return &models.ScanResult{Status: models.ScanStatusAlreadyUsed, Message: "Ticket has already been used", Ticket: ticket}, nil
	}
	return &models.ScanResult{Status: models.ScanStatusValid, Message: "Ticket is valid", Ticket: ticket}, nil
}
