package service

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrEmailDisabled 在邮件服务未配置 SMTP 时返回。
var ErrEmailDisabled = errors.New("email service disabled")

// EmailMessage 描述一封待发送的邮件。
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// EmailSender 是邮件通道的抽象，便于在测试中替换实际投递。
type EmailSender interface {
	Send(msg EmailMessage) error
}

// EmailService 通过 SMTP 发送 HTML 邮件。
type EmailService struct {
	host      string
	port      string
	username  string
	password  string
	fromEmail string
	fromName  string
	enabled   bool
	sendMail  func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailService 构造 EmailService，host 为空时服务处于禁用状态，
// 此时发送调用只记录日志不报错，便于本地开发。
func NewEmailService(host, port, username, password, fromEmail, fromName string) *EmailService {
	return &EmailService{
		host:      strings.TrimSpace(host),
		port:      strings.TrimSpace(port),
		username:  username,
		password:  password,
		fromEmail: strings.TrimSpace(fromEmail),
		fromName:  strings.TrimSpace(fromName),
		enabled:   strings.TrimSpace(host) != "",
		sendMail:  smtp.SendMail,
	}
}

// Send 发送一封邮件。
func (s *EmailService) Send(msg EmailMessage) error {
	if !s.enabled {
		log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("email disabled, skipped delivery")
		return nil
	}
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("email recipient is empty")
	}

	from := s.fromEmail
	if from == "" {
		from = s.username
	}

	headers := []string{
		fmt.Sprintf("From: %s <%s>", s.fromName, from),
		fmt.Sprintf("To: %s", msg.To),
		fmt.Sprintf("Subject: %s", msg.Subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}
	body := strings.Join(headers, "\r\n") + "\r\n\r\n" + msg.HTML
	if msg.HTML == "" {
		headers[4] = "Content-Type: text/plain; charset=UTF-8"
		body = strings.Join(headers, "\r\n") + "\r\n\r\n" + msg.Text
	}

	auth := smtp.PlainAuth("", s.username, s.password, s.host)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	if err := s.sendMail(addr, auth, from, []string{msg.To}, []byte(body)); err != nil {
		return fmt.Errorf("send email to %s: %w", msg.To, err)
	}

	log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("email sent")
	return nil
}
