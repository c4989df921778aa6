package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(ctx context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{}, nil
}

func TestEmailNotifier(t *testing.T) {
	ses := &fakeSES{}
	n := NewEmailNotifier(ses, "files@example.com")

	assert.True(t, n.Accepts(KindFileReady))
	assert.False(t, n.Accepts(KindFilePending))

	err := n.Notify(context.Background(), Event{Kind: KindFileReady, Filename: "a.bin"})
	assert.ErrorIs(t, err, ErrSkipped)
	assert.Empty(t, ses.inputs)

	ev := Event{
		Kind:     KindFileReady,
		Filename: "a.bin",
		URL:      "https://dash.example.com/files/f1",
		Customer: Recipient{Name: "Sara", Email: "sara@example.com"},
	}
	require.NoError(t, n.Notify(context.Background(), ev))
	require.Len(t, ses.inputs, 1)
	in := ses.inputs[0]
	assert.Equal(t, "files@example.com", *in.FromEmailAddress)
	assert.Equal(t, []string{"sara@example.com"}, in.Destination.ToAddresses)
	assert.Contains(t, *in.Content.Simple.Subject.Data, "a.bin")
	assert.Contains(t, *in.Content.Simple.Body.Text.Data, "Hello Sara")
	assert.Contains(t, *in.Content.Simple.Body.Html.Data, "https://dash.example.com/files/f1")

	ses.err = errors.New("throttled")
	err = n.Notify(context.Background(), ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}
