package core

import "context"

// Mailer is an interface to deliver outbound notification mails.
// The backend never sends mail itself; route extensions that need to
// reach a user - password reset in particular - go through this interface.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}
