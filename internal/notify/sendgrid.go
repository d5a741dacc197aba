package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Contact struct {
	Name  string
	Email string
}

// Directory resolves a customer id to a mail contact.
type Directory interface {
	Contact(ctx context.Context, userID uuid.UUID) (Contact, error)
}

type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) Contact(ctx context.Context, userID uuid.UUID) (Contact, error) {
	var c Contact
	var email *string
	err := d.pool.QueryRow(ctx, `SELECT full_name, email FROM users WHERE id = $1`, userID).Scan(&c.Name, &email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, fmt.Errorf("user %s not found", userID)
		}
		return Contact{}, fmt.Errorf("load contact: %w", err)
	}
	if email != nil {
		c.Email = *email
	}
	return c, nil
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

type SendGridNotifier struct {
	client    *sendgrid.Client
	directory Directory
	from      *mail.Email
	logger    zerolog.Logger
}

// NewSendGridNotifier returns nil when no API key is configured.
func NewSendGridNotifier(cfg SendGridConfig, dir Directory, logger zerolog.Logger) *SendGridNotifier {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.FromName == "" {
		cfg.FromName = "DNA Testing"
	}
	return &SendGridNotifier{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		directory: dir,
		from:      mail.NewEmail(cfg.FromName, cfg.FromEmail),
		logger:    logger.With().Str("component", "sendgrid").Logger(),
	}
}

func (n *SendGridNotifier) Notify(ctx context.Context, ev Event) error {
	if n.client == nil {
		return errors.New("notify: sendgrid client not configured")
	}
	contact, err := n.directory.Contact(ctx, ev.CustomerID)
	if err != nil {
		return err
	}
	if contact.Email == "" {
		n.logger.Debug().Str("customer_id", ev.CustomerID.String()).Msg("customer has no email, skipping")
		return nil
	}

	subject, body := Render(ev)
	msg := mail.NewSingleEmail(n.from, subject, mail.NewEmail(contact.Name, contact.Email), body, "")

	resp, err := n.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}

	n.logger.Info().Str("event", string(ev.Type)).Int("status", resp.StatusCode).Msg("email sent")
	return nil
}

// Render builds the subject and plain-text body for an event.
func Render(ev Event) (subject, body string) {
	ref := ""
	if ev.AppointmentID != nil {
		ref = ev.AppointmentID.String()
	} else if ev.ReservationID != nil {
		ref = ev.ReservationID.String()
	}

	switch ev.Type {
	case EventAppointmentBooked:
		subject = "Your DNA test appointment is booked"
		body = fmt.Sprintf("Appointment %s is reserved. Please pay the deposit of %d to confirm it.", ref, ev.Amount)
		if ev.CheckoutURL != "" {
			body += "\nPay here: " + ev.CheckoutURL
		}
	case EventDepositReceived:
		subject = "Deposit received"
		body = fmt.Sprintf("We received your deposit of %d for appointment %s.", ev.Amount, ref)
	case EventAppointmentConfirmed:
		subject = "Appointment confirmed"
		body = fmt.Sprintf("Appointment %s is confirmed.", ref)
	case EventBalanceDue:
		subject = "Remaining balance due"
		body = fmt.Sprintf("The remaining balance of %d for appointment %s is due.", ev.Amount, ref)
		if ev.CheckoutURL != "" {
			body += "\nPay here: " + ev.CheckoutURL
		}
	case EventPaymentSettled:
		subject = "Payment complete"
		body = fmt.Sprintf("Appointment %s is fully paid.", ref)
	case EventResultsReady:
		subject = "Your results are ready"
		body = fmt.Sprintf("Test results for appointment %s are ready.", ref)
	case EventAppointmentCancelled:
		subject = "Appointment cancelled"
		body = fmt.Sprintf("Appointment %s was cancelled: %s.", ref, ev.Reason)
	case EventReservationExpired:
		subject = "Reservation expired"
		body = fmt.Sprintf("Reservation %s expired before it was confirmed.", ref)
	default:
		subject = "Booking update"
		body = fmt.Sprintf("There is an update for %s.", ref)
	}
	return subject, body
}
