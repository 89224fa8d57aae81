// Package mail renders and delivers the account emails: invitations, password
// reset codes and email verification links.
//
// SMTPMailer sends through an SMTP relay. LogMailer writes the message to the
// structured log instead and is used when no SMTP host is configured.
package mail
