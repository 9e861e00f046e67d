// Package mailer turns engine notifications into RFC 5322 messages and
// delivers them. [SMTPSender] speaks SMTP with optional implicit TLS or
// STARTTLS, [WriterSender] writes composed messages to an io.Writer for
// development, and [Async] bounds any sender with a timeout so a slow
// provider cannot stall a login or reset request.
//
// Every sender implements the engine's EmailSender contract: the engine
// supplies recipient, subject and both body renderings, and the sender
// owns envelope, MIME structure and transport.
package mailer
