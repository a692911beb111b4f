// Package mail delivers magic links. Only a log-backed mailer exists; it
// prints the link for the operator to forward.
package mail

import (
	"context"

	"github.com/sirupsen/logrus"
)

type LogMailer struct {
	log *logrus.Logger
}

func NewLogMailer(log *logrus.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) SendMagicLink(_ context.Context, email, link string) error {
	m.log.WithFields(logrus.Fields{
		"email": email,
		"link":  link,
	}).Info("magic link issued")
	return nil
}
