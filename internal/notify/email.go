package notify

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/MedLarabi/compucar-sub005/internal/aws"
)

// EmailNotifier sends the "file ready" email through SES.
type EmailNotifier struct {
	client aws.SESAPI
	from   string
}

func NewEmailNotifier(client aws.SESAPI, from string) *EmailNotifier {
	return &EmailNotifier{client: client, from: from}
}

func (n *EmailNotifier) Name() string { return "email" }

func (n *EmailNotifier) Accepts(k Kind) bool { return k == KindFileReady }

func (n *EmailNotifier) Notify(ctx context.Context, ev Event) error {
	if ev.Customer.Email == "" {
		return ErrSkipped
	}
	subject, text, html := readyEmail(ev)
	_, err := n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: sdkaws.String(n.from),
		Destination:      &sestypes.Destination{ToAddresses: []string{ev.Customer.Email}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: utf8(subject),
				Body: &sestypes.Body{
					Text: utf8(text),
					Html: utf8(html),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send email: %w", err)
	}
	return nil
}

func utf8(s string) *sestypes.Content {
	return &sestypes.Content{Data: sdkaws.String(s), Charset: sdkaws.String("UTF-8")}
}
